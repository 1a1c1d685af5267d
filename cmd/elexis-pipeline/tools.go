package main

import (
	"context"
	"encoding/json"
	"fmt"

	"elexis-pipeline/internal/pipeline"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Mark overdue scheduled interviews as not_joined once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close(context.Background())

			n, err := a.pipeline.SweepNotJoined(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "marked %d interview(s) not_joined\n", n)
			return nil
		},
	}
}

// enqueueCmd 直接向主交换机投递一条消息，编码规则与运维接口一致
func enqueueCmd() *cobra.Command {
	var data, requestID string
	cmd := &cobra.Command{
		Use:   "enqueue <type>",
		Short: "Publish one pipeline message",
		Example: `  elexis-pipeline enqueue rank-resumes --data '{"jobId":"..."}'
  elexis-pipeline enqueue generate_embedding --data '{"candidate_id":"...","organization_namespace":"acme_org-1"}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if requestID == "" {
				requestID = uuid.NewString()
			}
			var payload map[string]interface{}
			if err := json.Unmarshal([]byte(data), &payload); err != nil {
				return fmt.Errorf("--data is not a json object: %w", err)
			}
			raw, err := json.Marshal(pipeline.Envelope{Type: args[0], Data: payload, RequestID: requestID})
			if err != nil {
				return err
			}
			msg, err := pipeline.Decode(raw)
			if err != nil {
				return err
			}
			body, err := pipeline.Encode(msg, requestID)
			if err != nil {
				return err
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close(context.Background())

			if err := a.storage.RabbitMQ.PublishMessage(ctx, cfg.RabbitMQ.Exchange, cfg.RabbitMQ.RoutingKey, body, true); err != nil {
				return fmt.Errorf("publish: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published %s %s request_id=%s\n", msg.Type(), msg.Ref(), requestID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&data, "data", "d", "{}", "message data as a json object")
	cmd.Flags().StringVar(&requestID, "request-id", "", "request id, random when empty")
	return cmd
}

func uploadStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upload-status <batch_job_id>",
		Short: "Print the progress of a bulk resume upload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close(context.Background())

			st, err := a.pipeline.UploadStatus(ctx, args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(st)
		},
	}
}
