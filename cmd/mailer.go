/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/istudybucket/apiserver/config"
	"github.com/istudybucket/apiserver/internal/logging"
	"github.com/istudybucket/apiserver/internal/mq"
	"github.com/istudybucket/apiserver/internal/notify"
	"github.com/spf13/cobra"
)

// mailerCmd consumes verification requests and emails the links.
var mailerCmd = &cobra.Command{
	Use:   "mailer",
	Short: "Sends verification emails queued by the server",
	Long: `Consumes auth.verification.requested messages from the configured
message queue and sends each verification link through SendGrid. Usage:

	MQ_BACKEND=rabbitmq SENDGRID_API_KEY=... apiserver mailer
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()
		logger := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format).With("component", "mailer")

		mailer, err := notify.NewMailer(cfg.SendGrid, cfg.Auth.VerifyURL)
		if err != nil {
			return err
		}

		queue, err := mq.NewFromConfig(cmd.Context(), cfg.MQ)
		if err != nil {
			return err
		}
		if queue == nil {
			return errors.New("mailer needs MQ_BACKEND to be rabbitmq or pubsub")
		}
		defer func() {
			if err := queue.Close(); err != nil {
				logger.Warn(context.Background(), "close message queue", "error", err)
			}
		}()

		logger.Info(cmd.Context(), "mailer consuming", "channel", notify.VerificationChannel, "backend", cfg.MQ.Backend)
		err = queue.Subscribe(cmd.Context(), notify.VerificationChannel, notify.VerificationHandler(mailer, logger))
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("consume verification messages: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(mailerCmd)
}
