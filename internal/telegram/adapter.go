// Package telegram is the chat front end: operators submit meetings with
// /process and receive reports through Deliver.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/meetbot/internal/gateway"
	"github.com/user/meetbot/internal/pipeline"
	"github.com/user/meetbot/internal/platform"
	"github.com/user/meetbot/internal/types"
)

const maxTelegramMessage = 4096

const helpText = `Meeting bot commands:
/process <meeting url> <lead id> - join, record and analyze a meeting
/jobs - list active jobs
/stop <job id> - stop recording and analyze what was captured
/help - this message`

// Jobs is the part of the gateway the bot drives.
type Jobs interface {
	Submit(req types.MeetingRequest, opts ...gateway.JobOption) (*gateway.Job, error)
	StopJob(id types.JobID) error
	Jobs() []gateway.JobInfo
}

// botAPI is the subset of *tgbotapi.BotAPI the adapter uses.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Adapter bridges Telegram to the gateway.
type Adapter struct {
	bot    botAPI
	jobs   Jobs
	logger *slog.Logger
}

// New creates a Telegram adapter.
func New(token string, jobs Jobs, logger *slog.Logger) (*Adapter, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	return newAdapter(bot, jobs, logger), nil
}

func newAdapter(bot botAPI, jobs Jobs, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{bot: bot, jobs: jobs, logger: logger}
}

// Start long-polls for updates until ctx is done.
func (a *Adapter) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := a.bot.GetUpdatesChan(u)

	for {
		select {
		case update := <-updates:
			if update.Message == nil || update.Message.Text == "" {
				continue
			}
			a.handleMessage(update.Message)
		case <-ctx.Done():
			a.bot.StopReceivingUpdates()
			return
		}
	}
}

// Deliver sends message to a "telegram:<chatID>" channel, split into
// Telegram-sized parts.
func (a *Adapter) Deliver(channel, message string) error {
	chatID, err := parseChannel(channel)
	if err != nil {
		return err
	}
	for _, part := range splitMessage(message) {
		if _, err := a.bot.Send(tgbotapi.NewMessage(chatID, part)); err != nil {
			return fmt.Errorf("send to %s: %w", channel, err)
		}
	}
	return nil
}

func (a *Adapter) handleMessage(msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	if !msg.IsCommand() {
		a.reply(chatID, helpText)
		return
	}

	switch msg.Command() {
	case "start", "help":
		a.reply(chatID, helpText)
	case "process":
		a.handleProcess(msg)
	case "jobs":
		a.reply(chatID, formatJobs(a.jobs.Jobs()))
	case "stop":
		id := strings.TrimSpace(msg.CommandArguments())
		if id == "" {
			a.reply(chatID, "Usage: /stop <job id>")
			return
		}
		if err := a.jobs.StopJob(types.JobID(id)); err != nil {
			if errors.Is(err, gateway.ErrJobNotFound) {
				a.reply(chatID, "❌ No active job "+id)
				return
			}
			a.reply(chatID, "❌ "+err.Error())
			return
		}
		a.reply(chatID, "⏹ Stopping recording for job "+id)
	default:
		a.reply(chatID, "Unknown command.\n\n"+helpText)
	}
}

func (a *Adapter) handleProcess(msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	meetingURL, leadID, ok := parseProcessArgs(msg.CommandArguments())
	if !ok {
		a.reply(chatID, "Usage: /process <meeting url> <lead id>")
		return
	}

	req := types.MeetingRequest{
		URL:           meetingURL,
		CorrelationID: leadID,
		Source:        "telegram",
	}
	a.logger.Info("processing meeting from chat", "url", meetingURL, "lead_id", leadID, "chat_id", chatID)

	job, err := a.jobs.Submit(req, gateway.WithOnComplete(func(res *pipeline.Result) {
		a.reply(chatID, completionMessage(res))
	}))
	if err != nil {
		a.reply(chatID, "❌ Error: "+err.Error())
		return
	}
	a.reply(chatID, fmt.Sprintf("🚀 Starting meeting processing...\nJob: %s", job.ID))
}

func (a *Adapter) reply(chatID int64, text string) {
	if err := a.Deliver(channelFor(chatID), text); err != nil {
		a.logger.Warn("telegram reply failed", "chat_id", chatID, "error", err)
	}
}

// parseProcessArgs splits "/process" arguments into a meeting URL and an
// optional lead id. Square brackets around either are dropped and a missing
// scheme becomes https.
func parseProcessArgs(args string) (meetingURL, leadID string, ok bool) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return "", "", false
	}
	meetingURL = platform.Normalize(strings.NewReplacer("[", "", "]", "").Replace(fields[0]))
	if len(fields) > 1 {
		leadID = strings.NewReplacer("[", "", "]", "").Replace(fields[1])
	}
	return meetingURL, leadID, meetingURL != ""
}

func completionMessage(res *pipeline.Result) string {
	if res.Err != nil {
		cause := res.Err
		var stageErr *pipeline.StageError
		if errors.As(res.Err, &stageErr) {
			cause = stageErr.Err
		}
		return fmt.Sprintf("❌ Processing failed at %s: %v", res.FailedStage(), cause)
	}
	var b strings.Builder
	b.WriteString("✅ Meeting processed. The report was sent to the operator.")
	if res.Analysis != nil {
		fmt.Fprintf(&b, "\nScore: %d/100, category %s", res.Analysis.OverallScore, res.Analysis.Category)
	}
	if len(res.Warnings) > 0 {
		fmt.Fprintf(&b, "\nWarnings: %d", len(res.Warnings))
	}
	return b.String()
}

func formatJobs(jobs []gateway.JobInfo) string {
	if len(jobs) == 0 {
		return "No active jobs."
	}
	var b strings.Builder
	for _, j := range jobs {
		fmt.Fprintf(&b, "%s [%s] %s", j.ID, j.Status, j.URL)
		if j.LeadID != "" {
			fmt.Fprintf(&b, " lead %s", j.LeadID)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

// splitMessage cuts text into parts of at most maxTelegramMessage runes,
// preferring line breaks.
func splitMessage(text string) []string {
	if utf8.RuneCountInString(text) <= maxTelegramMessage {
		return []string{text}
	}
	var parts []string
	for text != "" {
		cut, ok := runeOffset(text, maxTelegramMessage)
		if !ok {
			parts = append(parts, text)
			break
		}
		head := text[:cut]
		if i := strings.LastIndexByte(head, '\n'); i > 0 {
			head = head[:i+1]
		}
		parts = append(parts, head)
		text = text[len(head):]
	}
	return parts
}

// runeOffset returns the byte offset of the n-th rune of s, and false when s
// has no more than n runes. Invalid bytes count as one rune each.
func runeOffset(s string, n int) (int, bool) {
	count := 0
	for i := range s {
		if count == n {
			return i, true
		}
		count++
	}
	return len(s), false
}

func channelFor(chatID int64) string {
	return string(types.NewChannelKey("telegram", strconv.FormatInt(chatID, 10)))
}

func parseChannel(channel string) (int64, error) {
	rest, ok := strings.CutPrefix(channel, "telegram:")
	if !ok {
		return 0, fmt.Errorf("not a telegram channel: %s", channel)
	}
	chatID, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad telegram chat id in %s: %w", channel, err)
	}
	return chatID, nil
}
