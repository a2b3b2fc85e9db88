package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/nyai-sathi/voice-chat/backend/internal/config"
	"github.com/nyai-sathi/voice-chat/backend/internal/model/query"
	modelspeech "github.com/nyai-sathi/voice-chat/backend/internal/model/speech"
	"github.com/nyai-sathi/voice-chat/backend/internal/service/ai"
	"github.com/nyai-sathi/voice-chat/backend/internal/service/chat"
	queryservice "github.com/nyai-sathi/voice-chat/backend/internal/service/query"
	"github.com/nyai-sathi/voice-chat/backend/internal/service/speech"
	"github.com/nyai-sathi/voice-chat/backend/internal/storage"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] could not load .env, using system environment: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	modeFlag := flag.String("mode", "laws", "query mode: laws or judgements")
	text := flag.String("text", "", "question to send once; omit for an interactive session")
	backend := flag.String("backend", cfg.Query.Backend, "query backend: http or ark")
	language := flag.String("lang", "", "answer language: English, Hindi or Marathi")
	speak := flag.Bool("speak", false, "print the chunks the reply would be spoken in")
	timeout := flag.Duration("timeout", cfg.Query.Timeout, "request timeout")

	flag.Parse()

	mode, err := query.ParseMode(*modeFlag)
	if err != nil {
		flag.Usage()
		log.Fatalf("invalid -mode %q: use laws or judgements", *modeFlag)
	}

	var languageName string
	if *language != "" {
		lang, ok := modelspeech.ParseLanguage(*language)
		if !ok {
			log.Fatalf("unsupported -lang %q", *language)
		}
		languageName = lang.Name()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gateway, err := newGateway(ctx, cfg, *backend)
	if err != nil {
		log.Fatalf("failed to initialize %s gateway: %v", *backend, err)
	}

	svc := chat.NewService(chat.NewStore(storage.NewMemoryStorage()), gateway, chat.Options{
		HistoryLimit: cfg.Query.HistoryLimit,
		Timeout:      *timeout,
	})
	session := svc.EnsureSession(ctx)

	t := &tester{svc: svc, sessionID: session.ID, mode: mode, language: languageName, speak: *speak, chunkWords: chunkWords(cfg)}

	if strings.TrimSpace(*text) != "" {
		if !t.ask(ctx, *text) {
			os.Exit(1)
		}
		return
	}
	t.interactive(ctx, *backend)
}

func newGateway(ctx context.Context, cfg *config.Config, backend string) (queryservice.Gateway, error) {
	switch backend {
	case config.BackendArk:
		if !cfg.AI.Enabled() {
			return nil, fmt.Errorf("ark backend needs ARK_API_KEY + Model or an AK/SK pair")
		}
		return ai.NewGateway(ctx, cfg.AI)
	case config.BackendHTTP:
		return queryservice.NewHTTPGateway(cfg.Query.BaseURL, cfg.Query.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", backend)
	}
}

func chunkWords(cfg *config.Config) int {
	if cfg.Voice.ChunkWords != nil {
		return *cfg.Voice.ChunkWords
	}
	return speech.DefaultChunkWords
}

type tester struct {
	svc        *chat.Service
	sessionID  string
	mode       query.Mode
	language   string
	speak      bool
	chunkWords int
}

var (
	boldGreen = color.New(color.FgGreen, color.Bold).SprintFunc()
	boldCyan  = color.New(color.FgCyan, color.Bold).SprintFunc()
	red       = color.New(color.FgRed).SprintFunc()
	faint     = color.New(color.Faint).SprintFunc()
)

func (t *tester) interactive(ctx context.Context, backend string) {
	fmt.Println(boldGreen("NyAI Sathi query tester"))
	fmt.Printf("Backend: %s, mode: %s\n", boldCyan(backend), boldCyan(string(t.mode)))
	fmt.Println("Type a question and press Enter. Type ':laws' or ':judgements' to switch mode, 'exit' to quit.")
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)
	for ctx.Err() == nil {
		fmt.Print(boldGreen("You: "))
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		switch {
		case input == "":
			continue
		case strings.EqualFold(input, "exit"):
			return
		case strings.HasPrefix(input, ":"):
			mode, err := query.ParseMode(strings.TrimPrefix(input, ":"))
			if err != nil {
				fmt.Println(red(err.Error()))
				continue
			}
			t.mode = mode
			fmt.Printf("mode switched to %s\n\n", boldCyan(string(mode)))
			continue
		}
		t.ask(ctx, input)
	}
}

// ask sends one question and prints the reply. It reports whether the
// gateway answered.
func (t *tester) ask(ctx context.Context, text string) bool {
	apiText := chat.WithLanguageDirective(text, t.language)

	started := time.Now()
	reply, err := t.svc.SendUserMessage(ctx, t.sessionID, text, apiText, t.mode)
	if err != nil {
		fmt.Fprintln(os.Stderr, red("Error: "+err.Error()))
		return false
	}

	fmt.Print(boldCyan("Assistant: "))
	if reply.Failed {
		fmt.Println(red(reply.Assistant.Text))
		fmt.Println(faint("check QUERY_API_URL or the Ark credentials and see the log above"))
		return false
	}
	fmt.Println(reply.Assistant.Text)
	fmt.Println(faint(fmt.Sprintf("(%s in %s)", t.mode, time.Since(started).Round(time.Millisecond))))

	if t.speak {
		cleaned := speech.CleanForSpeech(reply.Assistant.Text)
		lang := speech.DetectLanguage(cleaned)
		for i, chunk := range speech.ChunkWords(cleaned, t.chunkWords) {
			fmt.Printf("%s %s\n", faint(fmt.Sprintf("[speak %d %s]", i+1, lang.Locale())), chunk)
		}
	}
	fmt.Println()
	return true
}
