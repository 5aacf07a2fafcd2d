package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vinodismyname/xlsxctx/internal/chat"
	"github.com/vinodismyname/xlsxctx/internal/ingest"
	"github.com/vinodismyname/xlsxctx/internal/session"
)

func newChatCmd() *cobra.Command {
	var files []string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat about Excel workbooks in the terminal",
		Long: `Start an interactive session. Upload workbooks with /upload and ask
questions in plain language. Type /help for the command list.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runChat(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), files)
		},
	}
	cmd.Flags().StringSliceVarP(&files, "file", "f", nil, "Workbook to upload before the first prompt (repeatable)")
	return cmd
}

func runChat(ctx context.Context, in io.Reader, out io.Writer, files []string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger, err := newLogger(os.Stderr, logLevel)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg, logger, true)
	if err != nil {
		return err
	}
	a.start()
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = a.close(closeCtx)
	}()

	r := &repl{
		out:       out,
		ingester:  a.ingester,
		assistant: a.assistant,
		sess:      a.sessions.Create(),
		logger:    logger,
	}
	r.welcome()
	for _, f := range files {
		r.upload(ctx, f)
	}
	return r.run(ctx, in)
}

var errQuit = errors.New("quit")

// repl is the console front end over one session.
type repl struct {
	out       io.Writer
	ingester  *ingest.Ingester
	assistant *chat.Assistant
	sess      *session.Session
	logger    zerolog.Logger
}

func (r *repl) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(r.out, format, args...)
}

func (r *repl) run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		r.printf("\nYour input: ")
		if !scanner.Scan() {
			r.printf("\n")
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if err := r.command(ctx, line); errors.Is(err, errQuit) {
				return nil
			}
			continue
		}
		r.ask(ctx, line)
	}
}

func (r *repl) command(ctx context.Context, line string) error {
	parts := strings.Fields(line)
	arg := strings.TrimSpace(strings.TrimPrefix(line, parts[0]))

	switch strings.ToLower(parts[0]) {
	case "/help":
		r.help()
	case "/upload":
		if arg == "" {
			r.printf("Usage: /upload <file_path>\n")
			return nil
		}
		r.upload(ctx, arg)
	case "/status":
		r.status()
	case "/tokens":
		r.tokens()
	case "/explain":
		if arg == "" {
			r.printf("Usage: /explain <question>\n")
			return nil
		}
		r.printf("\n%s\n", r.assistant.Explain(r.sess, arg))
	case "/clear":
		if strings.EqualFold(arg, "all") {
			r.sess.ClearAll()
			r.printf("All data and conversation history cleared.\n")
			return nil
		}
		r.sess.ClearHistory()
		r.printf("Conversation history cleared.\n")
	case "/exit", "/quit":
		r.printf("Goodbye!\n")
		return errQuit
	default:
		r.printf("Unknown command: %s\nType /help to see available commands.\n", line)
	}
	return nil
}

func (r *repl) upload(ctx context.Context, path string) {
	path = strings.Trim(path, `"'`)
	doc, err := r.ingester.IngestFile(ctx, path, ingest.Request{SessionID: r.sess.ID, FirstIndex: r.sess.NextIndex()})
	if err != nil {
		r.logger.Warn().Err(err).Str("path", path).Msg("upload failed")
		r.printf("Error processing file: %v\n", err)
		return
	}
	if !r.sess.AddDocument(doc) {
		r.printf("File already uploaded: %s\n", doc.Source)
		return
	}
	r.printf("Successfully processed file: %s (%d table(s) from %d sheet(s))\n", doc.Source, len(doc.Chunks), len(doc.Sheets))
}

func (r *repl) ask(ctx context.Context, message string) {
	r.printf("\nThinking...\n")
	ans, err := r.assistant.Reply(ctx, r.sess, message)
	switch {
	case errors.Is(err, chat.ErrNoModel):
		r.printf("\nNo completion model is configured. Set openai.token (XLSXCTX_OPENAI__TOKEN), or use /explain to inspect the data.\n")
	case err != nil:
		r.logger.Error().Err(err).Msg("chat reply failed")
		r.printf("\nSorry, I encountered an error while processing your request: %v\n", err)
	default:
		r.printf("\nAssistant: %s\n", ans.Text)
	}
}

func (r *repl) status() {
	st := r.sess.Status()
	r.printf("\nCurrent Status:\n")
	r.printf("- Loaded files: %d\n", len(st.Files))
	for _, f := range st.Files {
		r.printf("  * %s (%d table(s), ~%d tokens)\n", f.Source, f.Chunks, f.Tokens)
	}
	r.printf("- Conversation messages: %d\n", st.HistoryMessages)
	r.printf("- Context tokens: ~%d\n", st.ContextTokens)
}

func (r *repl) tokens() {
	rep := r.assistant.TokenReport(r.sess)
	r.printf("\nToken Usage Information:\n")
	r.printf("- Model: %s\n", r.assistant.ModelName())
	r.printf("- Excel content tokens: %d\n", rep.ContextTokens)
	r.printf("- Conversation history tokens: %d\n", rep.HistoryTokens)
	r.printf("- Model token limit: %d\n", rep.TokenLimit)
	r.printf("- Estimated total for a sample question: %d\n", rep.EstimatedTotal)
	if rep.CompressionApplied {
		r.printf("- Compression: applied (%s)\n", rep.Strategy)
	} else {
		r.printf("- Compression: not needed\n")
	}
}

func (r *repl) welcome() {
	r.printf("Excel Financial Data Chatbot\n")
	r.printf("============================\n\n")
	r.printf("Upload your Excel files and ask questions about your data.\n\n")
	r.help()
}

func (r *repl) help() {
	r.printf("Available Commands:\n")
	r.printf("  /upload <file_path>  - Upload and process an Excel file\n")
	r.printf("  /status              - Show current status and loaded files\n")
	r.printf("  /tokens              - Show token usage and limits information\n")
	r.printf("  /explain <question>  - Show the data most relevant to a question\n")
	r.printf("  /clear               - Clear conversation history\n")
	r.printf("  /clear all           - Clear all data and conversation history\n")
	r.printf("  /help                - Show this help message\n")
	r.printf("  /exit or /quit       - Exit the application\n")
}
