package system

// Version is set at build time via -ldflags "-X github.com/arbitra-ai/oversight/pkg/system.Version=...".
var Version = "dev"
