// Package cmd contains the ovctl command tree.
package cmd
