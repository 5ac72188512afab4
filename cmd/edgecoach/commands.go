package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/edgecoach/internal/config"
)

// --- chat ---

// chatResponse mirrors the fields of POST /v1/chat the CLI displays.
type chatResponse struct {
	Response struct {
		Content  string `json:"content"`
		Provider string `json:"provider"`
		Model    string `json:"model"`
		Cached   bool   `json:"cached"`
	} `json:"response"`
	ConversationID string `json:"conversationId"`
	Context        struct {
		TotalTokens   int  `json:"totalTokens"`
		WasSummarized bool `json:"wasSummarized"`
	} `json:"context"`
}

var chatCmd = &cobra.Command{
	Use:   "chat <message>",
	Short: "Send a message to the coach",
	Long: `Send a message to the coach.

Examples:
  edgecoach chat "I keep avoiding hard conversations at work"
  edgecoach chat --new --user alex "Let's work on delegation"
  edgecoach chat --conversation conv_1712345678901_k3j9x2abc "What should I try next?"
  edgecoach chat --stream --provider openai "Give me a reflection prompt"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := chatRequestFromFlags(cmd, strings.Join(args, " "))
		if err != nil {
			return err
		}
		stream, _ := cmd.Flags().GetBool("stream")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		if stream {
			return runChatStream(ctx, client, req, os.Stdout)
		}
		return runChat(ctx, client, req, os.Stdout)
	},
}

func chatRequestFromFlags(cmd *cobra.Command, message string) (map[string]any, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, fmt.Errorf("message is required")
	}
	req := map[string]any{"userMessage": message}

	if v, _ := cmd.Flags().GetString("conversation"); v != "" {
		req["conversationId"] = v
	}
	if v, _ := cmd.Flags().GetString("user"); v != "" {
		req["userId"] = v
	}
	if v, _ := cmd.Flags().GetString("context"); v != "" {
		req["context"] = v
	}
	if v, _ := cmd.Flags().GetString("provider"); v != "" {
		req["provider"] = v
	}
	if v, _ := cmd.Flags().GetString("model"); v != "" {
		req["model"] = v
	}
	if newConv, _ := cmd.Flags().GetBool("new"); newConv {
		if _, ok := req["conversationId"]; ok {
			return nil, fmt.Errorf("--new and --conversation are mutually exclusive")
		}
		req["persist"] = true
	}
	if cmd.Flags().Changed("no-cache") {
		req["enableCaching"] = false
	}
	return req, nil
}

func runChat(ctx context.Context, client *apiClient, req map[string]any, w io.Writer) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	resp, err := client.post(ctx, "/v1/chat", req)
	if err != nil {
		return err
	}

	var res chatResponse
	if err := decodeJSON(resp, &res); err != nil {
		return err
	}

	if structuredOutput() {
		return writeStructured(w, outputFormat, res)
	}
	fmt.Fprintln(w, res.Response.Content)
	if res.ConversationID != "" {
		printStatus("Conversation", "%s", res.ConversationID)
	}
	label := fmt.Sprintf("%s/%s", res.Response.Provider, res.Response.Model)
	if res.Response.Cached {
		label += " (cached)"
	}
	printStatus("Model", "%s", label)
	return nil
}

func runChatStream(ctx context.Context, client *apiClient, req map[string]any, w io.Writer) error {
	resp, err := client.post(ctx, "/v1/chat/stream", req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return responseError(resp)
	}

	convID := resp.Header.Get("X-Conversation-Id")

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	done := false
	for sc.Scan() {
		data, ok := strings.CutPrefix(sc.Text(), "data: ")
		if !ok {
			continue
		}
		if data == "[DONE]" {
			done = true
			break
		}

		var frame struct {
			Content string `json:"content"`
			Error   *struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal([]byte(data), &frame); err != nil {
			return fmt.Errorf("decoding stream frame: %w", err)
		}
		if frame.Error != nil {
			fmt.Fprintln(w)
			return fmt.Errorf("stream failed: %s", frame.Error.Message)
		}
		fmt.Fprint(w, frame.Content)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("reading stream: %w", err)
	}
	fmt.Fprintln(w)

	if !done {
		return fmt.Errorf("stream ended before completion")
	}
	if convID != "" {
		printStatus("Conversation", "%s", convID)
	}
	return nil
}

func init() {
	chatCmd.Flags().String("conversation", "", "continue a stored conversation")
	chatCmd.Flags().String("user", "", "user id (default anonymous)")
	chatCmd.Flags().String("context", "", "situational context prepended to the message")
	chatCmd.Flags().String("provider", "", "provider: anthropic or openai")
	chatCmd.Flags().String("model", "", "model override")
	chatCmd.Flags().Bool("new", false, "start and store a new conversation")
	chatCmd.Flags().Bool("stream", false, "stream the reply as it is generated")
	chatCmd.Flags().Bool("no-cache", false, "bypass the response cache")
}

// --- conversations ---

type conversationSummary struct {
	ConversationID string   `json:"conversationId" yaml:"conversationId"`
	UserID         string   `json:"userId" yaml:"userId"`
	UpdatedAt      string   `json:"updatedAt" yaml:"updatedAt"`
	TotalMessages  int      `json:"totalMessages" yaml:"totalMessages"`
	KeyInsights    []string `json:"keyInsights" yaml:"keyInsights"`
}

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"conv"},
	Short:   "Manage stored conversations",
}

var conversationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored conversations, most recent first",
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		ctx, cancel := withTimeout(context.Background())
		defer cancel()

		return listConversations(ctx, client, user, os.Stdout)
	},
}

func listConversations(ctx context.Context, client *apiClient, user string, w io.Writer) error {
	path := "/v1/conversations"
	if user != "" {
		path += "?userId=" + url.QueryEscape(user)
	}
	resp, err := client.get(ctx, path)
	if err != nil {
		return err
	}

	var result struct {
		Conversations []conversationSummary `json:"conversations"`
	}
	if err := decodeJSON(resp, &result); err != nil {
		return err
	}

	if structuredOutput() {
		return writeStructured(w, outputFormat, result.Conversations)
	}
	if len(result.Conversations) == 0 {
		fmt.Fprintln(w, "No conversations found.")
		return nil
	}
	for _, c := range result.Conversations {
		fmt.Fprintf(w, "%s  %s  %-12s %3d messages\n",
			colorize(colorCyan, c.ConversationID),
			c.UpdatedAt,
			c.UserID,
			c.TotalMessages,
		)
		for _, insight := range c.KeyInsights {
			fmt.Fprintf(w, "    • %s\n", insight)
		}
	}
	return nil
}

var conversationsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a stored conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		ctx, cancel := withTimeout(context.Background())
		defer cancel()

		resp, err := client.get(ctx, "/v1/conversations/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var conv any
		if err := decodeJSON(resp, &conv); err != nil {
			return err
		}
		format := outputFormat
		if format == "text" {
			format = "yaml"
		}
		return writeStructured(os.Stdout, format, conv)
	},
}

var conversationsNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Create an empty stored conversation",
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		ctx, cancel := withTimeout(context.Background())
		defer cancel()

		resp, err := client.post(ctx, "/v1/conversations", map[string]string{"userId": user})
		if err != nil {
			return err
		}
		var conv struct {
			ConversationID string `json:"conversationId"`
		}
		if err := decodeJSON(resp, &conv); err != nil {
			return err
		}
		printSuccess("Created conversation %s", conv.ConversationID)
		return nil
	},
}

var conversationsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a stored conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		ctx, cancel := withTimeout(context.Background())
		defer cancel()

		resp, err := client.delete(ctx, "/v1/conversations/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Deleted conversation %s", args[0])
		return nil
	},
}

func init() {
	conversationsListCmd.Flags().String("user", "", "only list this user's conversations")
	conversationsNewCmd.Flags().String("user", "", "user id (default anonymous)")
	conversationsCmd.AddCommand(conversationsListCmd, conversationsShowCmd, conversationsNewCmd, conversationsDeleteCmd)
}

// --- profile ---

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage coaching profiles",
}

var profileShowCmd = &cobra.Command{
	Use:   "show [user]",
	Short: "Show a user's profile",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		ctx, cancel := withTimeout(context.Background())
		defer cancel()

		resp, err := client.get(ctx, "/v1/profile/"+url.PathEscape(userArg(args)))
		if err != nil {
			return err
		}
		var p any
		if err := decodeJSON(resp, &p); err != nil {
			return err
		}
		format := outputFormat
		if format == "text" {
			format = "yaml"
		}
		return writeStructured(os.Stdout, format, p)
	},
}

var profileSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a profile field (focus_areas, stage, goals, tone)",
	Long: `Set a profile field. List fields accept comma-separated values; an
empty value clears the field.

Examples:
  edgecoach profile set focus_areas "public speaking, delegation"
  edgecoach profile set stage exploring --user alex`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		user, _ := cmd.Flags().GetString("user")

		body, err := profilePatch(key, value)
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		ctx, cancel := withTimeout(context.Background())
		defer cancel()

		resp, err := client.patch(ctx, "/v1/profile/"+url.PathEscape(userArg([]string{user})), body)
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

// profilePatch maps a CLI key/value to the PATCH /v1/profile body.
func profilePatch(key, value string) (map[string]any, error) {
	switch key {
	case "focus_areas", "goals":
		items := []string{}
		for _, item := range strings.Split(value, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		if key == "focus_areas" {
			return map[string]any{"focusAreas": items}, nil
		}
		return map[string]any{"goals": items}, nil
	case "stage", "tone":
		return map[string]any{key: strings.TrimSpace(value)}, nil
	}
	return nil, fmt.Errorf("unknown profile key %q (valid: focus_areas, stage, goals, tone)", key)
}

func userArg(args []string) string {
	if len(args) > 0 && args[0] != "" {
		return args[0]
	}
	return "anonymous"
}

func init() {
	profileSetCmd.Flags().String("user", "", "user id (default anonymous)")
	profileCmd.AddCommand(profileShowCmd, profileSetCmd)
}

// --- stats / cache ---

type serviceStats struct {
	RequestCount int     `json:"requestCount" yaml:"requestCount"`
	ErrorCount   int     `json:"errorCount" yaml:"errorCount"`
	CacheSize    int     `json:"cacheSize" yaml:"cacheSize"`
	ErrorRate    float64 `json:"errorRate" yaml:"errorRate"`
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show AI service counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		ctx, cancel := withTimeout(context.Background())
		defer cancel()

		return showStats(ctx, client, os.Stdout)
	},
}

func showStats(ctx context.Context, client *apiClient, w io.Writer) error {
	resp, err := client.get(ctx, "/v1/stats")
	if err != nil {
		return err
	}
	var s serviceStats
	if err := decodeJSON(resp, &s); err != nil {
		return err
	}
	if structuredOutput() {
		return writeStructured(w, outputFormat, s)
	}
	fmt.Fprintf(w, "Requests:   %d\n", s.RequestCount)
	fmt.Fprintf(w, "Errors:     %d\n", s.ErrorCount)
	fmt.Fprintf(w, "Error rate: %.1f%%\n", s.ErrorRate*100)
	fmt.Fprintf(w, "Cache size: %d\n", s.CacheSize)
	return nil
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the response cache",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop every cached response",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		ctx, cancel := withTimeout(context.Background())
		defer cancel()

		resp, err := client.delete(ctx, "/v1/cache")
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusNoContent {
			return decodeJSON(resp, nil)
		}
		resp.Body.Close()
		printSuccess("Response cache cleared")
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheClearCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		if structuredOutput() {
			m := make(map[string]string, len(keys))
			for _, k := range keys {
				m[k.Key] = k.Value
			}
			return writeStructured(os.Stdout, outputFormat, m)
		}
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		var err error
		if configPath != "" {
			err = config.SetKeyIn(configPath, key, value)
		} else {
			err = config.SetKey(key, value)
		}
		if err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configSetCmd)
}
