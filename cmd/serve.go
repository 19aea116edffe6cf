package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/webcheckup/webcheckup/internal/ai"
	"github.com/webcheckup/webcheckup/internal/api"
	appcheckup "github.com/webcheckup/webcheckup/internal/application/checkup"
	"github.com/webcheckup/webcheckup/internal/application/conversation"
	"github.com/webcheckup/webcheckup/internal/domain/chat"
	"github.com/webcheckup/webcheckup/internal/executor"
	"github.com/webcheckup/webcheckup/internal/infrastructure/persistence/sqlite"
	"github.com/webcheckup/webcheckup/internal/probe"
	"github.com/webcheckup/webcheckup/internal/summarizer"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the checkup REST API service",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		dbPath, _ := cmd.Flags().GetString("db")
		authToken, _ := cmd.Flags().GetString("auth-token")
		workers, _ := cmd.Flags().GetInt("workers")
		shutdownTimeout, _ := cmd.Flags().GetDuration("shutdown-timeout")
		corsOrigins, _ := cmd.Flags().GetStringSlice("cors-origins")
		rateLimit, _ := cmd.Flags().GetInt("rate-limit")
		rateBurst, _ := cmd.Flags().GetInt("rate-burst")

		defer func() {
			_ = logger.Sync()
		}()

		db, err := sqlite.Open(dbPath)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()

		checkupRepo := sqlite.NewCheckupRepository(db)
		chatRepo := sqlite.NewChatRepository(db)

		registry := probe.DefaultRegistry(probe.Config{
			LighthouseBinary: viper.GetString("lighthouse_binary"),
			InContainer:      viper.GetBool("in_container"),
			CookieScannerURL: viper.GetString("cookie_scanner_url"),
			ToolboxAPIKey:    viper.GetString("toolbox_api_key"),
			ToolboxBaseURL:   viper.GetString("toolbox_base_url"),
		})

		pool := executor.NewPool(workers, logger)
		defer pool.Close()

		apiKey := viper.GetString("anthropic_api_key")
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		model := viper.GetString("anthropic_model")

		var summ summarizer.Summarizer = summarizer.Noop{}
		if apiKey != "" {
			summ = summarizer.NewClaude(apiKey, model)
		} else {
			logger.Warn("no anthropic api key configured, summaries and chats are disabled")
		}

		orchestrator := appcheckup.NewOrchestrator(checkupRepo, chatRepo, registry, pool, summ, logger)
		defer orchestrator.Drain()

		var conversations api.ConversationService
		if apiKey != "" {
			agent := ai.NewClaudeAgent(apiKey, model)
			conversations = &conversationAdapter{svc: conversation.NewService(orchestrator, chatRepo, agent, logger)}
		}

		server := api.NewServer(api.Config{
			Checkups:      orchestrator,
			Conversations: conversations,
			Health:        &healthAPIService{db: db},
			AuthToken:     authToken,
			Logger:        logger,
			CORSOrigins:   corsOrigins,
			RateLimit:     rateLimit,
			RateBurst:     rateBurst,
		})

		httpServer := &http.Server{
			Addr:         addr,
			Handler:      server,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 0, // streamed responses stay open
			IdleTimeout:  120 * time.Second,
		}

		serverErrors := make(chan error, 1)
		go func() {
			fmt.Printf("%s API server listening on %s (db: %s)\n", colorInfo("→"), addr, dbPath)
			fmt.Printf("%s Press Ctrl+C to gracefully shutdown\n", colorInfo("→"))
			serverErrors <- httpServer.ListenAndServe()
		}()

		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

		select {
		case err := <-serverErrors:
			if !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server error: %w", err)
			}
		case sig := <-shutdown:
			fmt.Printf("\n%s Received signal %v, initiating graceful shutdown...\n", colorInfo("→"), sig)

			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			if err := httpServer.Shutdown(ctx); err != nil {
				if closeErr := httpServer.Close(); closeErr != nil {
					return fmt.Errorf("failed to gracefully shutdown server: %w (close error: %v)", err, closeErr)
				}
				return fmt.Errorf("failed to gracefully shutdown server: %w", err)
			}

			fmt.Printf("%s Server shutdown complete\n", colorSuccess("✓"))
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().String("addr", "127.0.0.1:8080", "Address for the API server")
	serveCmd.Flags().String("db", "webcheckup.db", "Path to the SQLite database")
	serveCmd.Flags().String("auth-token", "", "Optional shared secret for API requests")
	serveCmd.Flags().Int("workers", 8, "Probe execution pool size")
	serveCmd.Flags().Duration("shutdown-timeout", 30*time.Second, "Graceful shutdown timeout")
	serveCmd.Flags().StringSlice("cors-origins", []string{}, "Allowed CORS origins (empty = allow all)")
	serveCmd.Flags().Int("rate-limit", 10, "Rate limit per IP (requests/second, 0 = disabled)")
	serveCmd.Flags().Int("rate-burst", 20, "Rate limit burst size")
	rootCmd.AddCommand(serveCmd)
}

type healthAPIService struct {
	db *sql.DB
}

func (s *healthAPIService) Check(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *healthAPIService) Ready(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// conversationAdapter maps api.ConversationRequest onto the conversation
// service's identical SendRequest type.
type conversationAdapter struct {
	svc *conversation.Service
}

func (a *conversationAdapter) Messages(ctx context.Context, checkupID, checkID, ownerID string) ([]*chat.Message, error) {
	return a.svc.Messages(ctx, checkupID, checkID, ownerID)
}

func (a *conversationAdapter) Send(ctx context.Context, req api.ConversationRequest) (*chat.Message, error) {
	return a.svc.Send(ctx, conversation.SendRequest{
		CheckupID:     req.CheckupID,
		CheckID:       req.CheckID,
		OwnerID:       req.OwnerID,
		Question:      req.Question,
		AttachmentURL: req.AttachmentURL,
	})
}

func (a *conversationAdapter) SendStream(ctx context.Context, req api.ConversationRequest) (<-chan string, <-chan error, error) {
	return a.svc.SendStream(ctx, conversation.SendRequest{
		CheckupID:     req.CheckupID,
		CheckID:       req.CheckID,
		OwnerID:       req.OwnerID,
		Question:      req.Question,
		AttachmentURL: req.AttachmentURL,
	})
}

func (a *conversationAdapter) ClearHistory(ctx context.Context, checkupID, checkID, ownerID string) (int64, error) {
	return a.svc.ClearHistory(ctx, checkupID, checkID, ownerID)
}
