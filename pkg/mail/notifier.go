package mail

import (
	"fmt"
	"html"
	"strings"

	"go.uber.org/zap"

	"github.com/arbitra-ai/oversight/pkg/hitl"
)

// TaskNotifier mails reviewers whose roles match a newly created task's
// policy. It implements hitl.Notifier.
type TaskNotifier struct {
	sender         Sender
	roleRecipients map[string][]string
	log            *zap.SugaredLogger
}

// NewTaskNotifier builds a notifier from the role-to-recipients mapping.
func NewTaskNotifier(sender Sender, roleRecipients map[string][]string, log *zap.SugaredLogger) *TaskNotifier {
	return &TaskNotifier{
		sender:         sender,
		roleRecipients: roleRecipients,
		log:            log,
	}
}

// NotifyTaskCreated resolves the recipients for the policy's roles and sends
// the notification in the background. Mail delivery must never block or fail
// task creation.
func (n *TaskNotifier) NotifyTaskCreated(task hitl.HumanTask, roles []string) {
	receivers := n.recipientsFor(roles)
	if len(receivers) == 0 {
		n.log.Debugw("No mail recipients configured for task roles",
			"taskId", task.ID, "roles", roles)
		return
	}

	subject := fmt.Sprintf("[%s] %s", strings.ToUpper(string(task.Priority)), task.Title)
	body := renderTaskBody(task)

	go func() {
		if err := n.sender.Send(receivers, subject, body); err != nil {
			n.log.Warnw("Failed to send task notification",
				"taskId", task.ID, "receivers", len(receivers), "error", err)
		}
	}()
}

func (n *TaskNotifier) recipientsFor(roles []string) []string {
	seen := make(map[string]struct{})
	var receivers []string
	for _, role := range roles {
		for _, addr := range n.roleRecipients[role] {
			if _, ok := seen[addr]; ok {
				continue
			}
			seen[addr] = struct{}{}
			receivers = append(receivers, addr)
		}
	}
	return receivers
}

func renderTaskBody(task hitl.HumanTask) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	fmt.Fprintf(&b, "<h2>%s</h2>", html.EscapeString(task.Title))
	fmt.Fprintf(&b, "<p><b>Task:</b> %s<br/>", html.EscapeString(task.ID))
	fmt.Fprintf(&b, "<b>Type:</b> %s<br/>", task.Type)
	fmt.Fprintf(&b, "<b>Priority:</b> %s<br/>", task.Priority)
	fmt.Fprintf(&b, "<b>Deadline:</b> %s</p>", task.Deadline.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "<pre>%s</pre>", html.EscapeString(task.Description))
	b.WriteString("</body></html>")
	return b.String()
}
