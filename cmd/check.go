package cmd

import (
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"github.com/spf13/cobra"
)

var (
	checkServerURL string
	checkAPIKey    string
	checkModel     string
)

func init() {
	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Send a chat completion through a running relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(checkAPIKey) == "" {
				return fmt.Errorf("--api-key is required")
			}
			clientCfg := openai.DefaultConfig(checkAPIKey)
			clientCfg.BaseURL = strings.TrimRight(checkServerURL, "/") + "/v1"
			client := openai.NewClientWithConfig(clientCfg)

			resp, err := client.CreateChatCompletion(cmd.Context(), openai.ChatCompletionRequest{
				Model: checkModel,
				Messages: []openai.ChatCompletionMessage{
					{Role: openai.ChatMessageRoleUser, Content: "Reply with the single word: pong"},
				},
			})
			if err != nil {
				return fmt.Errorf("chat completion via relay: %w", err)
			}
			if len(resp.Choices) == 0 {
				return fmt.Errorf("relay returned no choices")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", resp.Model, strings.TrimSpace(resp.Choices[0].Message.Content))
			return nil
		},
	}
	checkCmd.Flags().StringVar(&checkServerURL, "server", "http://127.0.0.1:5000", "Relay base URL")
	checkCmd.Flags().StringVar(&checkAPIKey, "api-key", "", "API key forwarded to the upstream")
	checkCmd.Flags().StringVar(&checkModel, "model", "o1-mini", "Model to request")
	rootCmd.AddCommand(checkCmd)
}
