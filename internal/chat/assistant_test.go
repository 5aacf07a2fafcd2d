package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/vinodismyname/xlsxctx/config"
	"github.com/vinodismyname/xlsxctx/internal/grid"
	"github.com/vinodismyname/xlsxctx/internal/ingest"
	"github.com/vinodismyname/xlsxctx/internal/optimizer"
	"github.com/vinodismyname/xlsxctx/internal/session"
)

type fakeModel struct {
	reply    string
	err      error
	messages []llms.MessageContent
	opts     llms.CallOptions
}

func (f *fakeModel) GenerateContent(_ context.Context, msgs []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.messages = msgs
	f.opts = llms.CallOptions{}
	for _, o := range options {
		o(&f.opts)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: f.reply}}}, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func newAssistant(model llms.Model) *Assistant {
	cfg := config.Default()
	return New(model, optimizer.New(optimizer.FromConfig(cfg)), FromConfig(cfg), zerolog.Nop())
}

func newSession(t *testing.T, rows [][]string) *session.Session {
	t.Helper()
	sess := session.NewStore(time.Hour, time.Minute).Create()
	if rows != nil {
		doc := ingest.NewDocument("q1.xlsx", ingest.Ingest(grid.FromValues(rows), "q1.xlsx", ingest.Options{}))
		doc.Path = "/data/q1.xlsx"
		require.True(t, sess.AddDocument(doc))
	}
	return sess
}

func text(t *testing.T, m llms.MessageContent) string {
	t.Helper()
	require.Len(t, m.Parts, 1)
	part, ok := m.Parts[0].(llms.TextContent)
	require.True(t, ok)
	return part.Text
}

func TestReply_NoFiles(t *testing.T) {
	model := &fakeModel{reply: "unused"}
	a := newAssistant(model)
	sess := newSession(t, nil)

	ans, err := a.Reply(context.Background(), sess, "What is revenue?")
	require.NoError(t, err)
	require.Equal(t, NoFilesReply, ans.Text)
	require.Nil(t, model.messages)
	require.Empty(t, sess.History())
}

func TestReply_SendsContextAndRecordsExchange(t *testing.T) {
	model := &fakeModel{reply: "Revenue was 100."}
	a := newAssistant(model)
	sess := newSession(t, [][]string{{"Month", "Revenue"}, {"Jan", "100"}})
	sess.AppendExchange("hi", "hello")

	ans, err := a.Reply(context.Background(), sess, "What is revenue?")
	require.NoError(t, err)
	require.Equal(t, "Revenue was 100.", ans.Text)
	require.False(t, ans.Result.CompressionApplied)
	require.Equal(t, config.DefaultMaxResponseTokens, ans.MaxTokens)

	require.Len(t, model.messages, 4)
	require.Equal(t, llms.ChatMessageTypeSystem, model.messages[0].Role)
	require.Contains(t, text(t, model.messages[0]), "| Jan | 100 |")
	require.Equal(t, llms.ChatMessageTypeHuman, model.messages[1].Role)
	require.Equal(t, "hi", text(t, model.messages[1]))
	require.Equal(t, llms.ChatMessageTypeAI, model.messages[2].Role)
	require.Equal(t, llms.ChatMessageTypeHuman, model.messages[3].Role)
	require.Equal(t, "What is revenue?", text(t, model.messages[3]))

	require.InDelta(t, config.DefaultTemperature, model.opts.Temperature, 1e-9)
	require.Equal(t, config.DefaultMaxResponseTokens, model.opts.MaxTokens)

	require.Equal(t, []string{"hi", "hello", "What is revenue?", "Revenue was 100."}, sess.History())
}

func TestReply_CompressionNote(t *testing.T) {
	rows := [][]string{{"Month", "Revenue", "Cost"}}
	for i := range 3000 {
		rows = append(rows, []string{fmt.Sprintf("M%d", i), "$1,000,000", "$250,000"})
	}
	model := &fakeModel{reply: "Summary."}
	a := newAssistant(model)
	sess := newSession(t, rows)

	ans, err := a.Reply(context.Background(), sess, "What is the total revenue?")
	require.NoError(t, err)
	require.True(t, ans.Result.CompressionApplied)
	require.True(t, strings.HasPrefix(ans.Text, "Summary."))
	require.True(t, strings.HasSuffix(ans.Text, CompressionNote))
	require.Contains(t, text(t, model.messages[0]), "NOTE:")
	require.Positive(t, model.opts.MaxTokens)
	require.LessOrEqual(t, model.opts.MaxTokens, config.DefaultMaxResponseTokens)
}

func TestReply_ModelErrorLeavesHistory(t *testing.T) {
	model := &fakeModel{err: errors.New("boom")}
	a := newAssistant(model)
	sess := newSession(t, [][]string{{"a", "b"}, {"1", "2"}})

	_, err := a.Reply(context.Background(), sess, "q")
	require.Error(t, err)
	require.Empty(t, sess.History())
}

func TestReply_NoModel(t *testing.T) {
	a := newAssistant(nil)
	sess := newSession(t, [][]string{{"a", "b"}, {"1", "2"}})
	_, err := a.Reply(context.Background(), sess, "q")
	require.ErrorIs(t, err, ErrNoModel)
}

func TestReply_EmptyChoiceUsesFallback(t *testing.T) {
	a := newAssistant(&fakeModel{})
	sess := newSession(t, [][]string{{"a", "b"}, {"1", "2"}})
	ans, err := a.Reply(context.Background(), sess, "q")
	require.NoError(t, err)
	require.Equal(t, EmptyReply, ans.Text)
}

func TestBuildMessages_RoleParityUsesOffset(t *testing.T) {
	msgs := BuildMessages("sys", []string{"a1", "u2"}, 1, "now")
	require.Len(t, msgs, 4)
	require.Equal(t, llms.ChatMessageTypeAI, msgs[1].Role)
	require.Equal(t, llms.ChatMessageTypeHuman, msgs[2].Role)
	require.Equal(t, llms.ChatMessageTypeHuman, msgs[3].Role)
}

func TestResponseBudget(t *testing.T) {
	require.Equal(t, 2000, ResponseBudget(optimizer.Result{TokenLimit: 8192, EstimatedTotalTokens: 1000}, 2000))
	require.Equal(t, 92, ResponseBudget(optimizer.Result{TokenLimit: 8192, EstimatedTotalTokens: 8000}, 2000))
}

func TestTokenReport(t *testing.T) {
	a := newAssistant(nil)
	sess := newSession(t, [][]string{{"Month", "Revenue"}, {"Jan", "100"}})
	sess.AppendExchange("hello", "hi there")

	r := a.TokenReport(sess)
	require.Equal(t, 8192, r.TokenLimit)
	require.Positive(t, r.ContextTokens)
	require.Equal(t, 2+2, r.HistoryTokens)
	require.False(t, r.CompressionApplied)
	require.Greater(t, r.EstimatedTotal, r.ContextTokens)
}

func TestExplain(t *testing.T) {
	a := newAssistant(nil)
	sess := newSession(t, [][]string{{"Month", "Revenue"}, {"Jan", "100"}})
	out := a.Explain(sess, "revenue by month")
	require.True(t, strings.HasPrefix(out, "# Relevant Excel Data"))
}
