package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"github.com/xuri/excelize/v2"

	"github.com/vinodismyname/xlsxctx/config"
	"github.com/vinodismyname/xlsxctx/internal/chat"
	"github.com/vinodismyname/xlsxctx/internal/ingest"
	"github.com/vinodismyname/xlsxctx/internal/optimizer"
	"github.com/vinodismyname/xlsxctx/internal/session"
	"github.com/vinodismyname/xlsxctx/internal/workbooks"
)

type echoModel struct{}

func (echoModel) GenerateContent(_ context.Context, msgs []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	last := msgs[len(msgs)-1].Parts[0].(llms.TextContent).Text
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: "echo: " + last}}}, nil
}

func (m echoModel) Call(ctx context.Context, prompt string, opts ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, opts...)
}

func newTestREPL(t *testing.T, model llms.Model) (*repl, *bytes.Buffer) {
	t.Helper()
	cfg := config.Default()
	opt := optimizer.New(optimizer.FromConfig(cfg))
	out := &bytes.Buffer{}
	return &repl{
		out:       out,
		ingester:  ingest.NewIngester(workbooks.NewManager(time.Minute, time.Minute)),
		assistant: chat.New(model, opt, chat.FromConfig(cfg), zerolog.Nop()),
		sess:      session.NewStore(time.Hour, time.Minute).Create(),
		logger:    zerolog.Nop(),
	}, out
}

func writeBook(t *testing.T) string {
	t.Helper()
	f := excelize.NewFile()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]any{"Month", "Revenue"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]any{"Jan", "$100"}))
	path := filepath.Join(t.TempDir(), "q1.xlsx")
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())
	return path
}

func TestREPL_Session(t *testing.T) {
	r, out := newTestREPL(t, echoModel{})
	path := writeBook(t)

	script := strings.Join([]string{
		"what is revenue?",
		"/upload " + path,
		"/upload " + path,
		"what is revenue?",
		"/status",
		"/tokens",
		"/explain revenue",
		"/bogus",
		"/clear",
		"/exit",
		"never read",
	}, "\n")
	require.NoError(t, r.run(context.Background(), strings.NewReader(script)))

	got := out.String()
	require.Contains(t, got, chat.NoFilesReply)
	require.Contains(t, got, "Successfully processed file: q1.xlsx (1 table(s) from 1 sheet(s))")
	require.Contains(t, got, "File already uploaded: q1.xlsx")
	require.Contains(t, got, "Assistant: echo: what is revenue?")
	require.Contains(t, got, "- Loaded files: 1")
	require.Contains(t, got, "- Conversation messages: 2")
	require.Contains(t, got, "- Model token limit: 8192")
	require.Contains(t, got, "# Relevant Excel Data")
	require.Contains(t, got, "Unknown command: /bogus")
	require.Contains(t, got, "Conversation history cleared.")
	require.Contains(t, got, "Goodbye!")
	require.Empty(t, r.sess.History())
	require.True(t, r.sess.HasFiles())
}

func TestREPL_NoModelAndClearAll(t *testing.T) {
	r, out := newTestREPL(t, nil)
	r.upload(context.Background(), writeBook(t))

	require.NoError(t, r.run(context.Background(), strings.NewReader("hello\n/clear all\n/upload\n")))
	got := out.String()
	require.Contains(t, got, "No completion model is configured")
	require.Contains(t, got, "All data and conversation history cleared.")
	require.Contains(t, got, "Usage: /upload <file_path>")
	require.False(t, r.sess.HasFiles())
}

func TestREPL_UploadError(t *testing.T) {
	r, out := newTestREPL(t, nil)
	r.upload(context.Background(), filepath.Join(t.TempDir(), "missing.xlsx"))
	require.Contains(t, out.String(), "Error processing file:")
	require.False(t, r.sess.HasFiles())
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(&buf, "warn")
	require.NoError(t, err)
	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")
	require.NotContains(t, buf.String(), "hidden")
	require.Contains(t, buf.String(), "shown")

	_, err = newLogger(&buf, "loud")
	require.Error(t, err)
}

func TestRootCommandWiring(t *testing.T) {
	root := newRootCmd()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	require.True(t, names["serve"])
	require.True(t, names["chat"])
	require.True(t, names["inspect"])
}

func TestInspectCommand(t *testing.T) {
	path := writeBook(t)
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"inspect", "--chunks", path})
	require.NoError(t, root.Execute())
	require.Contains(t, out.String(), "q1.xlsx-0")
	require.Contains(t, out.String(), "1 chunk(s)")
}
