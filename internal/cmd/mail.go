package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/legio-dev/legio/internal/errs"
	"github.com/legio-dev/legio/internal/mail"
	"github.com/legio-dev/legio/internal/state"
	"github.com/legio-dev/legio/internal/style"
)

var (
	mailFrom     string
	mailTo       string
	mailSubject  string
	mailType     string
	mailPriority string
	mailAgent    string
	mailUnread   bool
)

var mailCmd = &cobra.Command{
	Use:     "mail",
	GroupID: GroupMessaging,
	Short:   "Send and read inter-agent mail",
}

var mailSendCmd = &cobra.Command{
	Use:   "send <body>",
	Short: "Send a message to an agent or @group",
	Long: `Send a message. --to accepts an agent name or a group address:
@all broadcasts to every active agent, @<capability> (or the plural)
to every active agent with that capability. The sender is excluded
from its own broadcasts.

Examples:
  legio mail send "please review PR 12" --to reviewer-a1b2c3 --from coordinator
  legio mail send "wrap up" --to @builders --from coordinator --subject "deadline"`,
	Args: cobra.ExactArgs(1),
	RunE: runMailSend,
}

var mailCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Count unread mail for an agent (exit 1 when none)",
	Args:  cobra.NoArgs,
	RunE:  runMailCheck,
}

var mailListCmd = &cobra.Command{
	Use:   "list",
	Short: "List messages for an agent",
	Args:  cobra.NoArgs,
	RunE:  runMailList,
}

var mailReadCmd = &cobra.Command{
	Use:   "read <id>",
	Short: "Print a message and mark it read",
	Args:  cobra.ExactArgs(1),
	RunE:  runMailRead,
}

var mailReplyCmd = &cobra.Command{
	Use:   "reply <id> <body>",
	Short: "Reply on a message's thread",
	Args:  cobra.ExactArgs(2),
	RunE:  runMailReply,
}

func init() {
	mailSendCmd.Flags().StringVar(&mailTo, "to", "", "Recipient agent or @group (required)")
	mailSendCmd.Flags().StringVar(&mailFrom, "from", "orchestrator", "Sender agent")
	mailSendCmd.Flags().StringVar(&mailSubject, "subject", "", "Message subject")
	mailSendCmd.Flags().StringVar(&mailType, "type", string(mail.TypeStatus), "Message type")
	mailSendCmd.Flags().StringVar(&mailPriority, "priority", string(mail.PriorityNormal), "Message priority")
	_ = mailSendCmd.MarkFlagRequired("to")

	mailCheckCmd.Flags().StringVar(&mailAgent, "agent", "coordinator", "Agent whose inbox to check")
	mailListCmd.Flags().StringVar(&mailAgent, "agent", "", "Agent whose mail to list")
	mailListCmd.Flags().BoolVar(&mailUnread, "unread", false, "Only unread messages")
	mailReplyCmd.Flags().StringVar(&mailFrom, "from", "orchestrator", "Sender agent")

	mailCmd.AddCommand(mailSendCmd, mailCheckCmd, mailListCmd, mailReadCmd, mailReplyCmd)
	rootCmd.AddCommand(mailCmd)
}

func runMailSend(cmd *cobra.Command, args []string) error {
	paths, _, err := loadProject()
	if err != nil {
		return err
	}

	m := mail.NewMessage(mailFrom, mailTo, mailSubject, args[0])
	m.Type = mail.Type(mailType)
	m.Priority = mail.Priority(mailPriority)

	store, err := mail.Open(paths.MailDB())
	if err != nil {
		return err
	}
	defer store.Close()

	var sent []*mail.Message
	if mail.IsGroupAddress(mailTo) {
		sessions, err := state.Open(paths.SessionsDB())
		if err != nil {
			return err
		}
		active, err := sessions.Active()
		sessions.Close()
		if err != nil {
			return err
		}
		sent, err = mail.ExpandBroadcast(m, active)
		if err != nil {
			return err
		}
	} else {
		sent = []*mail.Message{m}
	}

	for _, msg := range sent {
		if err := store.Insert(msg); err != nil {
			return err
		}
	}

	if jsonOutput {
		return printJSON(sent)
	}
	style.PrintSuccess("sent %d message(s)", len(sent))
	return nil
}

func runMailCheck(cmd *cobra.Command, args []string) error {
	paths, _, err := loadProject()
	if err != nil {
		return err
	}

	store, err := mail.Open(paths.MailDB())
	if err != nil {
		return err
	}
	defer store.Close()

	count, err := store.UnreadCount(mailAgent)
	if err != nil {
		return err
	}

	if jsonOutput {
		_ = printJSON(map[string]int{"unread": count})
	} else {
		fmt.Println(count)
	}
	if count == 0 {
		return NewSilentExit(1)
	}
	return nil
}

func runMailList(cmd *cobra.Command, args []string) error {
	paths, _, err := loadProject()
	if err != nil {
		return err
	}

	store, err := mail.Open(paths.MailDB())
	if err != nil {
		return err
	}
	defer store.Close()

	var messages []*mail.Message
	if mailUnread {
		if mailAgent == "" {
			return errs.Validationf("--unread requires --agent")
		}
		messages, err = store.Unread(mailAgent)
	} else {
		messages, err = store.All(mail.Filter{To: mailAgent})
	}
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(messages)
	}
	for _, m := range messages {
		marker := " "
		if !m.Read {
			marker = style.Bold.Render("*")
		}
		fmt.Printf("%s %-14s %-18s -> %-18s %s\n",
			marker, m.ID, m.From, m.To, m.Subject)
	}
	return nil
}

func runMailRead(cmd *cobra.Command, args []string) error {
	paths, _, err := loadProject()
	if err != nil {
		return err
	}

	store, err := mail.Open(paths.MailDB())
	if err != nil {
		return err
	}
	defer store.Close()

	m, err := store.ByID(args[0])
	if err != nil {
		return err
	}
	if err := store.MarkRead(m.ID); err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(m)
	}
	fmt.Printf("From: %s\nTo: %s\nType: %s\nSubject: %s\n\n%s\n",
		m.From, m.To, m.Type, m.Subject, m.Body)
	return nil
}

func runMailReply(cmd *cobra.Command, args []string) error {
	paths, _, err := loadProject()
	if err != nil {
		return err
	}

	store, err := mail.Open(paths.MailDB())
	if err != nil {
		return err
	}
	defer store.Close()

	original, err := store.ByID(args[0])
	if err != nil {
		return err
	}

	subject := original.Subject
	if !strings.HasPrefix(subject, "Re: ") {
		subject = "Re: " + subject
	}
	reply := mail.NewMessage(mailFrom, original.From, subject, args[1])
	reply.ThreadID = original.ThreadID
	reply.Type = original.Type

	if err := store.Insert(reply); err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(reply)
	}
	style.PrintSuccess("replied to %s on thread %s", original.From, reply.ThreadID)
	return nil
}
