// Package main is the entry point for the Converse CLI, a conversational
// assistant with turn planning, side-channel tools, and local memory.
package main

import (
	"bufio"
	"context"
	"fmt"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/normanking/converse/internal/chat"
	"github.com/normanking/converse/internal/config"
	"github.com/normanking/converse/internal/data"
	"github.com/normanking/converse/internal/llm"
	"github.com/normanking/converse/internal/logging"
	"github.com/normanking/converse/internal/memory"
	"github.com/normanking/converse/internal/orchestrator"
	"github.com/normanking/converse/internal/planner"
	"github.com/normanking/converse/internal/snippets"
	"github.com/normanking/converse/internal/summary"
	"github.com/normanking/converse/internal/tools"
)

var version = "0.3.0"

var cfgPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "converse",
		Short: "Converse - conversational assistant with planning and tools",
		Long: `Converse is a terminal chat assistant that plans each turn before
answering: web search grounding, URL reading, molecule lookup, and
extended thinking are engaged automatically, or forced with /tool.

Start interactive mode:  converse
One-shot question:       converse ask "why is the sky blue"
Configuration:           converse config show`,
		RunE: runChat,
	}

	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path (default ~/.converse/config.yaml)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Converse v%s\n", version)
		},
	})

	rootCmd.AddCommand(askCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(memoryCmd())
	rootCmd.AddCommand(snippetsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// app bundles everything a running session needs.
type app struct {
	cfg        *config.Config
	db         *data.DB
	controller *orchestrator.Controller
	snipStore  *snippets.Store
	memStore   *memory.Store
	logCloser  func()
}

func (a *app) close() {
	a.controller.WaitBackground()
	if a.db != nil {
		a.db.Close()
	}
	if a.logCloser != nil {
		a.logCloser()
	}
}

func loadConfig() (*config.Config, error) {
	if cfgPath != "" {
		return config.LoadFromPath(cfgPath)
	}
	return config.Load()
}

// buildApp wires the full turn pipeline from configuration. console
// controls whether logs also go to stderr; the chat REPL keeps them in
// the file only.
func buildApp(console bool) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	closer, err := logging.Setup(&logging.Config{
		Level:    cfg.Logging.Level,
		FilePath: cfg.Logging.File,
		Colored:  cfg.Logging.Colored,
		Console:  console,
	})
	if err != nil {
		return nil, err
	}

	db, err := data.Open(filepath.Dir(cfg.Store.DBPath))
	if err != nil {
		closer.Close()
		return nil, fmt.Errorf("open database: %w", err)
	}

	memStore, err := memory.NewStore(db.SQL())
	if err != nil {
		db.Close()
		closer.Close()
		return nil, err
	}
	snipStore, err := snippets.NewStore(db.SQL())
	if err != nil {
		db.Close()
		closer.Close()
		return nil, err
	}

	provider := llm.NewGeminiProvider(llm.GeminiConfig{
		Endpoint:        cfg.LLM.Endpoint,
		APIKey:          cfg.LLM.APIKey,
		Model:           cfg.LLM.Model,
		Timeout:         cfg.LLM.Timeout,
		MaxOutputTokens: cfg.LLM.MaxOutputTokens,
	})

	router := tools.NewRouter(
		tools.NewURLReaderTool(
			tools.WithMaxContentBytes(cfg.Tools.MaxURLContentBytes),
		),
		tools.NewChemistryTool(
			tools.WithChemistryEndpoint(cfg.Tools.ChemistryEndpoint),
			tools.WithChemistryCacheTTL(cfg.Tools.CacheTTL),
		),
	)

	conv := chat.NewConversation()
	controller := orchestrator.New(conv, orchestrator.Config{
		Provider:    provider,
		Planner:     planner.New(provider, cfg.LLM.PlannerModel),
		Router:      router,
		Model:       cfg.LLM.Model,
		MemoryStore: memStore,
		Memory:      memory.NewUpdater(provider, cfg.LLM.PlannerModel, memStore),
		Summarizer:  summary.New(provider, cfg.LLM.PlannerModel),
		Extractor:   snippets.NewExtractor(provider, cfg.LLM.PlannerModel, snipStore),
		Matcher:     snippets.NewMatcher(provider, cfg.LLM.PlannerModel, snipStore),
	})

	return &app{
		cfg:        cfg,
		db:         db,
		controller: controller,
		snipStore:  snipStore,
		memStore:   memStore,
		logCloser:  func() { closer.Close() },
	}, nil
}

// ===========================================================================
// INTERACTIVE CHAT
// ===========================================================================

func runChat(cmd *cobra.Command, args []string) error {
	a, err := buildApp(false)
	if err != nil {
		return err
	}
	defer a.close()

	fmt.Printf("Converse v%s — /help for commands, Ctrl-D to exit.\n\n", version)

	// Ctrl-C cancels the in-flight turn instead of killing the process.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT)
	defer signal.Stop(sigCh)
	go func() {
		for range sigCh {
			a.controller.Cancel()
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		prompt, atts, opts, handled, err := parseInput(line)
		if err != nil {
			fmt.Println(err)
			continue
		}
		if handled {
			switch line {
			case "/quit", "/exit":
				return nil
			case "/help":
				printHelp()
			case "/retry":
				runTurn(a, func() error {
					return a.controller.Retry(context.Background())
				})
			}
			continue
		}

		runTurn(a, func() error {
			return a.controller.Send(context.Background(), prompt, atts, opts)
		})
	}
}

// runTurn executes one turn while echoing streamed text as it lands on the
// in-flight message.
func runTurn(a *app, turn func() error) {
	conv := a.controller.Conversation()
	done := make(chan error, 1)
	go func() { done <- turn() }()

	var printed int
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	echo := func() {
		last, ok := conv.Last()
		if !ok || last.Role != chat.RoleModel {
			return
		}
		if len(last.Content) > printed {
			fmt.Print(last.Content[printed:])
			printed = len(last.Content)
		}
	}

	for {
		select {
		case <-ticker.C:
			echo()
		case err := <-done:
			echo()
			fmt.Println()
			if err != nil {
				log.Error().Err(err).Msg("turn error")
			}
			printTurnFooter(conv)
			return
		}
	}
}

func printTurnFooter(conv *chat.Conversation) {
	last, ok := conv.Last()
	if !ok || last.Role != chat.RoleModel {
		return
	}
	var parts []string
	if last.InputTokens > 0 || last.OutputTokens > 0 {
		parts = append(parts, fmt.Sprintf("%d in / %d out tokens", last.InputTokens, last.OutputTokens))
	}
	if last.GenerationTime > 0 {
		parts = append(parts, last.GenerationTime.Round(10*time.Millisecond).String())
	}
	if len(last.Sources) > 0 {
		parts = append(parts, fmt.Sprintf("%d sources", len(last.Sources)))
	}
	if last.Molecule != nil {
		parts = append(parts, fmt.Sprintf("molecule: %s (%s)", last.Molecule.Name, last.Molecule.Formula))
	}
	if len(parts) > 0 {
		fmt.Printf("  [%s]\n\n", strings.Join(parts, " · "))
	} else {
		fmt.Println()
	}
}

// parseInput turns a REPL line into a prompt, attachments, and options.
// handled is true for slash commands the caller dispatches itself.
func parseInput(line string) (string, chat.Attachments, orchestrator.SendOptions, bool, error) {
	var atts chat.Attachments
	var opts orchestrator.SendOptions

	if !strings.HasPrefix(line, "/") {
		return line, atts, opts, false, nil
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit", "/help", "/retry":
		return "", atts, opts, true, nil

	case "/url":
		if len(fields) < 3 {
			return "", atts, opts, false, fmt.Errorf("usage: /url <link> <question>")
		}
		atts.URL = fields[1]
		return strings.Join(fields[2:], " "), atts, opts, false, nil

	case "/file":
		if len(fields) < 2 {
			return "", atts, opts, false, fmt.Errorf("usage: /file <path> [question]")
		}
		content, err := os.ReadFile(fields[1])
		if err != nil {
			return "", atts, opts, false, fmt.Errorf("read file: %w", err)
		}
		atts.File = &chat.FileAttachment{
			Name:    filepath.Base(fields[1]),
			Content: string(content),
		}
		return strings.Join(fields[2:], " "), atts, opts, false, nil

	case "/image":
		if len(fields) < 2 {
			return "", atts, opts, false, fmt.Errorf("usage: /image <path> [question]")
		}
		raw, err := os.ReadFile(fields[1])
		if err != nil {
			return "", atts, opts, false, fmt.Errorf("read image: %w", err)
		}
		mimeType := mime.TypeByExtension(filepath.Ext(fields[1]))
		if mimeType == "" {
			mimeType = "image/png"
		}
		atts.Images = []chat.ImageAttachment{{MIMEType: mimeType, Data: raw}}
		return strings.Join(fields[2:], " "), atts, opts, false, nil

	case "/tool":
		if len(fields) < 3 {
			return "", atts, opts, false, fmt.Errorf("usage: /tool <web_search|url_reader|thinking|chemistry> <question>")
		}
		switch chat.Tool(fields[1]) {
		case chat.ToolWebSearch, chat.ToolURLReader, chat.ToolThinking, chat.ToolChemistry:
			opts.Tool = chat.Tool(fields[1])
		default:
			return "", atts, opts, false, fmt.Errorf("unknown tool %q", fields[1])
		}
		return strings.Join(fields[2:], " "), atts, opts, false, nil

	default:
		return "", atts, opts, false, fmt.Errorf("unknown command %s (try /help)", fields[0])
	}
}

func printHelp() {
	fmt.Print(`Commands:
  /url <link> <question>    read a page and ask about it
  /file <path> [question]   attach a text file
  /image <path> [question]  attach an image
  /tool <name> <question>   force a tool: web_search, url_reader, thinking, chemistry
  /retry                    regenerate the last answer
  /quit                     exit
Ctrl-C cancels the current response.
`)
}

// ===========================================================================
// ONE-SHOT ASK
// ===========================================================================

func askCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a single question and exit",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(false)
			if err != nil {
				return err
			}
			defer a.close()

			question := strings.Join(args, " ")
			runTurn(a, func() error {
				return a.controller.Send(context.Background(), question, chat.Attachments{}, orchestrator.SendOptions{})
			})
			return nil
		},
	}
}

// ===========================================================================
// CONFIG COMMANDS
// ===========================================================================

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the active configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			fmt.Printf("llm.endpoint:            %s\n", cfg.LLM.Endpoint)
			fmt.Printf("llm.model:               %s\n", cfg.LLM.Model)
			fmt.Printf("llm.planner_model:       %s\n", cfg.LLM.PlannerModel)
			fmt.Printf("llm.api_key:             %s\n", maskKey(cfg.LLM.APIKey))
			fmt.Printf("tools.chemistry_endpoint: %s\n", cfg.Tools.ChemistryEndpoint)
			fmt.Printf("store.db_path:           %s\n", cfg.Store.DBPath)
			fmt.Printf("logging.level:           %s\n", cfg.Logging.Level)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the config file location",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfgPath != "" {
				fmt.Println(cfgPath)
				return nil
			}
			home, err := os.UserHomeDir()
			if err != nil {
				return err
			}
			fmt.Println(filepath.Join(home, ".converse", "config.yaml"))
			return nil
		},
	})

	return cmd
}

func maskKey(key string) string {
	if key == "" {
		return "(not set)"
	}
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

// ===========================================================================
// MEMORY COMMANDS
// ===========================================================================

func memoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect and manage long-term user memory",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show what is remembered about you",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(true)
			if err != nil {
				return err
			}
			defer a.close()

			mem, err := a.memStore.Load()
			if err != nil {
				return err
			}
			if mem.Name != "" {
				fmt.Printf("Name: %s\n", mem.Name)
			}
			if len(mem.Facts) == 0 {
				fmt.Println("No facts remembered yet.")
				return nil
			}
			for _, f := range mem.Facts {
				fmt.Printf("- %s (%s)\n", f.Fact, f.CreatedAt.Format("2006-01-02"))
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "forget",
		Short: "Erase all remembered facts",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(true)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.memStore.Save(&memory.UserMemory{}); err != nil {
				return err
			}
			fmt.Println("Memory cleared.")
			return nil
		},
	})

	return cmd
}

// ===========================================================================
// SNIPPET COMMANDS
// ===========================================================================

func snippetsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snippets",
		Short: "Browse stored code snippets",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored snippets, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(true)
			if err != nil {
				return err
			}
			defer a.close()

			descs, err := a.snipStore.Descriptors()
			if err != nil {
				return err
			}
			if len(descs) == 0 {
				fmt.Println("No snippets stored yet.")
				return nil
			}
			for _, d := range descs {
				fmt.Printf("%s  [%s]  %s\n", d.ID, d.Language, d.Description)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Print one snippet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(true)
			if err != nil {
				return err
			}
			defer a.close()

			snip, err := a.snipStore.Get(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("// %s\n%s\n", snip.Description, snip.Code)
			return nil
		},
	})

	return cmd
}
