// Package repl provides the interactive terminal client for the chat
// session manager.
package repl

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/fatih/color"

	"CareChat/internal/assistant"
)

var (
	promptColor    = color.New(color.FgCyan, color.Bold)
	assistantColor = color.New(color.FgGreen)
	noticeColor    = color.New(color.FgYellow)
	errorColor     = color.New(color.FgRed)
)

// Notifier prints one-shot failure notices to the terminal.
type Notifier struct {
	Out io.Writer
}

func (n Notifier) Notify(message string) {
	errorColor.Fprintf(n.Out, "! %s\n", message)
}

// REPL drives an interactive chat loop over a session manager.
type REPL struct {
	mgr    *assistant.Manager
	logger *slog.Logger
	in     io.Reader
	out    io.Writer
}

// New creates a REPL reading from in and writing to out.
func New(mgr *assistant.Manager, logger *slog.Logger, in io.Reader, out io.Writer) *REPL {
	return &REPL{mgr: mgr, logger: logger, in: in, out: out}
}

// Run starts the chat loop and blocks until /quit or input ends.
func (r *REPL) Run(ctx context.Context) error {
	r.mgr.Activate(ctx)

	fmt.Fprintln(r.out, "=== CareChat ===")
	fmt.Fprintln(r.out, "Type /help for commands, /quit to exit")
	fmt.Fprintln(r.out)

	scanner := bufio.NewScanner(r.in)

	for {
		promptColor.Fprint(r.out, "You: ")
		if !scanner.Scan() {
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			quit, err := r.handleCommand(ctx, input)
			if err != nil {
				errorColor.Fprintf(r.out, "Error: %v\n", err)
				r.logger.Error("command error", "error", err)
			}
			if quit {
				break
			}
			continue
		}

		assistantColor.Fprint(r.out, "Assistant: ")
		err := r.mgr.SendMessage(ctx, input, nil, func(delta string) {
			assistantColor.Fprint(r.out, delta)
		})
		fmt.Fprintln(r.out)
		if err != nil {
			r.logger.Error("failed to send message", "error", err)
		}
		fmt.Fprintln(r.out)
	}

	fmt.Fprintln(r.out, "Goodbye!")
	return scanner.Err()
}

// handleCommand handles slash commands. It returns true to quit.
func (r *REPL) handleCommand(ctx context.Context, cmd string) (bool, error) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return false, nil
	}

	switch parts[0] {
	case "/quit", "/exit":
		return true, nil

	case "/new":
		id, err := r.mgr.CreateConversation(ctx)
		if err != nil {
			return false, err
		}
		noticeColor.Fprintf(r.out, "Started conversation %s\n", id)
		return false, nil

	case "/list":
		convs, err := r.mgr.ListConversations(ctx)
		if err != nil {
			return false, err
		}
		if len(convs) == 0 {
			fmt.Fprintln(r.out, "No conversations yet.")
			return false, nil
		}
		fmt.Fprintln(r.out, "\nConversations:")
		for i, conv := range convs {
			title := conv.Title
			if title == "" {
				title = "(untitled)"
			}
			current := ""
			if conv.ID == r.mgr.ActiveConversation() {
				current = " (current)"
			}
			fmt.Fprintf(r.out, "%d. %s%s\n", i+1, title, current)
		}
		fmt.Fprintln(r.out)
		return false, nil

	case "/select":
		if len(parts) < 2 {
			return false, fmt.Errorf("usage: /select <number>")
		}
		conv, err := r.pick(parts[1])
		if err != nil {
			return false, err
		}
		if err := r.mgr.SelectConversation(ctx, conv); err != nil {
			return false, err
		}
		for _, msg := range r.mgr.Messages() {
			if msg.Role == "assistant" {
				assistantColor.Fprintf(r.out, "Assistant: %s\n", msg.Content)
			} else {
				promptColor.Fprintf(r.out, "You: %s\n", msg.Content)
			}
		}
		return false, nil

	case "/delete":
		if len(parts) < 2 {
			return false, fmt.Errorf("usage: /delete <number>")
		}
		conv, err := r.pick(parts[1])
		if err != nil {
			return false, err
		}
		if err := r.mgr.DeleteConversation(ctx, conv); err != nil {
			return false, err
		}
		noticeColor.Fprintln(r.out, "Conversation deleted.")
		return false, nil

	case "/help":
		fmt.Fprintln(r.out, "Available commands:")
		fmt.Fprintln(r.out, "  /quit, /exit        - Exit")
		fmt.Fprintln(r.out, "  /new                - Start a new conversation")
		fmt.Fprintln(r.out, "  /list               - List your conversations")
		fmt.Fprintln(r.out, "  /select <number>    - Open a conversation from the list")
		fmt.Fprintln(r.out, "  /delete <number>    - Delete a conversation from the list")
		fmt.Fprintln(r.out, "  /help               - Show this help message")
		return false, nil

	default:
		return false, nil
	}
}

// pick resolves a 1-based list index (or a raw id) to a conversation id.
func (r *REPL) pick(arg string) (string, error) {
	convs := r.mgr.Conversations()
	if n, err := strconv.Atoi(arg); err == nil {
		if n < 1 || n > len(convs) {
			return "", fmt.Errorf("no conversation %d, run /list first", n)
		}
		return convs[n-1].ID, nil
	}
	return arg, nil
}
