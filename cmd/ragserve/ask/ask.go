package askcmder

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fieldnotesco/ragserve/pkg/rag"
)

const askLongDesc string = `Ask a question against a running ragserve instance.

Sends the question to the server's /api/chat endpoint and prints the
answer followed by the cited sources.

Examples:
  ragserve ask "What is ROS 2?"
  ragserve ask --server http://192.168.1.42:8080 "How do joints work?"`

const askShortDesc string = "Ask a running server a question"

type askCommander struct {
	serverURL string
}

func NewAskCmd() *cobra.Command {
	cmder := &askCommander{}

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: askShortDesc,
		Long:  askLongDesc,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd, args[0])
		},
	}

	cmd.Flags().StringVarP(&cmder.serverURL, "server", "s", "http://localhost:8080", "Base URL of the ragserve instance")

	return cmd
}

func (c *askCommander) run(cmd *cobra.Command, question string) error {
	reqBody, err := json.Marshal(rag.ChatRequest{Message: question})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	url := strings.TrimRight(c.serverURL, "/") + "/api/chat"
	httpReq, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("could not reach server at %s: %w", c.serverURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp rag.ErrorResponse
		if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
			return fmt.Errorf("server error (%d): %s", resp.StatusCode, errResp.Error)
		}
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}

	var chatResp rag.ChatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), chatResp.Response)
	if len(chatResp.Sources) > 0 {
		fmt.Fprintln(cmd.OutOrStdout())
		fmt.Fprintln(cmd.OutOrStdout(), "Sources:")
		for _, src := range chatResp.Sources {
			fmt.Fprintf(cmd.OutOrStdout(), "  - %s\n", src)
		}
	}

	return nil
}
