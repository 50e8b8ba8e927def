package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

type client struct {
	baseURL       string
	adminToken    string
	verifierToken string
	httpClient    *http.Client
}

type taskResp struct {
	ID              uint64 `json:"id"`
	Advertiser      string `json:"advertiser"`
	Category        string `json:"category"`
	Status          string `json:"status"`
	RewardAmount    uint64 `json:"rewardAmount"`
	RewardAsset     string `json:"rewardAsset"`
	MaxParticipants int    `json:"maxParticipants"`
}

type statsResp struct {
	TaskID      uint64 `json:"taskId"`
	Submitted   int64  `json:"submitted"`
	Verified    int64  `json:"verified"`
	Settled     int64  `json:"settled"`
	Remaining   int    `json:"remaining"`
	PoolBalance uint64 `json:"poolBalance"`
}

type ui struct {
	title func(a ...any) string
	ok    func(a ...any) string
	info  func(a ...any) string
	warn  func(a ...any) string
	err   func(a ...any) string
	dim   func(a ...any) string
}

type profile struct {
	BaseURL       string `yaml:"baseUrl"`
	AdminToken    string `yaml:"adminToken"`
	VerifierToken string `yaml:"verifierToken"`
}

type cliConfig struct {
	CurrentProfile string             `yaml:"currentProfile"`
	Profiles       map[string]profile `yaml:"profiles"`
}

func newUI() *ui {
	return &ui{
		title: color.New(color.FgHiCyan, color.Bold).SprintFunc(),
		ok:    color.New(color.FgGreen, color.Bold).SprintFunc(),
		info:  color.New(color.FgCyan).SprintFunc(),
		warn:  color.New(color.FgYellow).SprintFunc(),
		err:   color.New(color.FgRed, color.Bold).SprintFunc(),
		dim:   color.New(color.FgHiBlack).SprintFunc(),
	}
}

func (c *client) request(method, path string, token string, body any) (int, []byte, error) {
	var buf *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		buf = bytes.NewReader(b)
	} else {
		buf = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, c.baseURL+path, buf)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, out, nil
}

func (c *client) spinRequest(suffix, method, path, token string, body any) (int, []byte, error) {
	spin := spinner.New(spinner.CharSets[14], 120*time.Millisecond)
	spin.Suffix = " " + suffix
	spin.Start()
	status, resp, err := c.request(method, path, token, body)
	spin.Stop()
	return status, resp, err
}

func main() {
	baseURL := getenv("HOMARE_BASE_URL", "http://localhost:8080")
	adminToken := getenv("HOMARE_ADMIN_TOKEN", "")
	verifierToken := getenv("HOMARE_VERIFIER_TOKEN", "")
	profileName := getenv("HOMARE_PROFILE", "")
	ui := newUI()

	root := &cobra.Command{
		Use:   "homare",
		Short: "homare CLI",
		Long:  "homare CLI for task campaigns, verifiers, referrals, and reward pools.",
	}
	root.SetHelpTemplate(helpTemplate(ui))
	root.SilenceUsage = true

	root.PersistentFlags().StringVar(&baseURL, "base-url", baseURL, "Base URL for homare")
	root.PersistentFlags().StringVar(&adminToken, "admin-token", adminToken, "Admin token")
	root.PersistentFlags().StringVar(&verifierToken, "verifier-token", verifierToken, "Verifier token")
	root.PersistentFlags().StringVar(&profileName, "profile", profileName, "Config profile")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, _, _ := loadConfig()
		active := resolveProfileName(profileName, cfg)
		prof := cfg.Profiles[active]

		flags := cmd.Flags()
		if !flags.Changed("base-url") {
			if v := strings.TrimSpace(os.Getenv("HOMARE_BASE_URL")); v != "" {
				baseURL = v
			} else if prof.BaseURL != "" {
				baseURL = prof.BaseURL
			}
		}
		if !flags.Changed("admin-token") {
			if v := strings.TrimSpace(os.Getenv("HOMARE_ADMIN_TOKEN")); v != "" {
				adminToken = v
			} else if prof.AdminToken != "" {
				adminToken = prof.AdminToken
			}
		}
		if !flags.Changed("verifier-token") {
			if v := strings.TrimSpace(os.Getenv("HOMARE_VERIFIER_TOKEN")); v != "" {
				verifierToken = v
			} else if prof.VerifierToken != "" {
				verifierToken = prof.VerifierToken
			}
		}
		if !flags.Changed("profile") && profileName == "" && active != "" {
			profileName = active
		}
		return nil
	}

	root.AddCommand(initCmd(&profileName, ui))
	root.AddCommand(authCmd(&profileName, ui))
	root.AddCommand(taskCmd(&baseURL, &adminToken, ui))
	root.AddCommand(verifierCmd(&baseURL, &adminToken, ui))
	root.AddCommand(poolCmd(&baseURL, &adminToken, ui))
	root.AddCommand(referralCmd(&baseURL, ui))
	root.AddCommand(settlementCmd(&baseURL, &adminToken, ui))
	root.AddCommand(verdictCmd(&baseURL, &verifierToken, ui))
	root.AddCommand(seedCmd(&baseURL, ui))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ui.err("[ERROR]"), err.Error())
		os.Exit(1)
	}
}

func initCmd(profileName *string, ui *ui) *cobra.Command {
	var (
		baseURL       string
		adminToken    string
		verifierToken string
		noPrompt      bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize CLI config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cfgPath, err := loadConfig()
			if err != nil {
				return err
			}
			active := resolveProfileName(*profileName, cfg)
			prof := cfg.Profiles[active]

			if baseURL == "" {
				baseURL = prof.BaseURL
			}
			if baseURL == "" {
				baseURL = "http://localhost:8080"
			}

			if !noPrompt {
				reader := bufio.NewReader(os.Stdin)
				baseURL = prompt(reader, "Base URL", baseURL)
				if adminToken == "" {
					adminToken, err = promptSecret("Admin token (optional)")
					if err != nil {
						return err
					}
				}
				if verifierToken == "" {
					verifierToken, err = promptSecret("Verifier token (optional)")
					if err != nil {
						return err
					}
				}
			}

			prof.BaseURL = strings.TrimSpace(baseURL)
			if adminToken != "" {
				prof.AdminToken = strings.TrimSpace(adminToken)
			}
			if verifierToken != "" {
				prof.VerifierToken = strings.TrimSpace(verifierToken)
			}

			if cfg.Profiles == nil {
				cfg.Profiles = map[string]profile{}
			}
			cfg.Profiles[active] = prof
			if cfg.CurrentProfile == "" || *profileName != "" {
				cfg.CurrentProfile = active
			}

			if err := saveConfig(cfg, cfgPath); err != nil {
				return err
			}
			fmt.Printf("%s Initialized profile '%s' at %s\n", ui.ok("[OK]"), active, cfgPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&baseURL, "base-url", "", "Base URL for homare")
	cmd.Flags().StringVar(&adminToken, "admin-token", "", "Admin token")
	cmd.Flags().StringVar(&verifierToken, "verifier-token", "", "Verifier token")
	cmd.Flags().BoolVar(&noPrompt, "no-prompt", false, "Disable interactive prompts")
	return cmd
}

func authCmd(profileName *string, ui *ui) *cobra.Command {
	auth := &cobra.Command{
		Use:   "auth",
		Short: "Manage stored credentials",
	}

	var (
		adminToken    string
		verifierToken string
	)

	set := &cobra.Command{
		Use:   "set",
		Short: "Store tokens in config",
		RunE: func(cmd *cobra.Command, args []string) error {
			if adminToken == "" && verifierToken == "" {
				return errors.New("provide --admin-token and/or --verifier-token")
			}
			cfg, cfgPath, err := loadConfig()
			if err != nil {
				return err
			}
			active := resolveProfileName(*profileName, cfg)
			prof := cfg.Profiles[active]
			if adminToken != "" {
				prof.AdminToken = strings.TrimSpace(adminToken)
			}
			if verifierToken != "" {
				prof.VerifierToken = strings.TrimSpace(verifierToken)
			}
			if cfg.Profiles == nil {
				cfg.Profiles = map[string]profile{}
			}
			cfg.Profiles[active] = prof
			if cfg.CurrentProfile == "" || *profileName != "" {
				cfg.CurrentProfile = active
			}
			if err := saveConfig(cfg, cfgPath); err != nil {
				return err
			}
			fmt.Printf("%s Credentials updated for '%s'\n", ui.ok("[OK]"), active)
			return nil
		},
	}
	set.Flags().StringVar(&adminToken, "admin-token", "", "Admin token")
	set.Flags().StringVar(&verifierToken, "verifier-token", "", "Verifier token")

	show := &cobra.Command{
		Use:   "show",
		Short: "Show stored credentials (masked)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			active := resolveProfileName(*profileName, cfg)
			prof := cfg.Profiles[active]
			fmt.Printf("%s Profile: %s\n", ui.title("homare"), active)
			fmt.Printf("%s Base URL: %s\n", ui.info("•"), emptyOr(prof.BaseURL, "<unset>"))
			fmt.Printf("%s Admin:    %s\n", ui.info("•"), maskToken(prof.AdminToken))
			fmt.Printf("%s Verifier: %s\n", ui.info("•"), maskToken(prof.VerifierToken))
			return nil
		},
	}

	clear := &cobra.Command{
		Use:   "clear",
		Short: "Clear stored tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cfgPath, err := loadConfig()
			if err != nil {
				return err
			}
			active := resolveProfileName(*profileName, cfg)
			prof := cfg.Profiles[active]
			prof.AdminToken = ""
			prof.VerifierToken = ""
			cfg.Profiles[active] = prof
			if err := saveConfig(cfg, cfgPath); err != nil {
				return err
			}
			fmt.Printf("%s Tokens cleared for '%s'\n", ui.ok("[OK]"), active)
			return nil
		},
	}

	auth.AddCommand(set, show, clear)
	return auth
}

func taskCmd(baseURL, adminToken *string, ui *ui) *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Task operations",
	}

	var (
		advertiser string
		category   string
		reward     uint64
		asset      string
		cap        int
		start      string
		end        string
		criteria   string
		minScore   int
	)

	create := &cobra.Command{
		Use:     "create",
		Short:   "Create a promotional task",
		Example: "homare task create --advertiser acme --category SWAP --reward 100 --asset USDT --cap 500 --duration 72h",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(advertiser) == "" {
				return errors.New("advertiser is required")
			}
			if reward == 0 {
				return errors.New("reward must be positive")
			}
			if *adminToken == "" {
				return errors.New("admin token is required (run `homare auth set`)")
			}
			if start == "" {
				start = time.Now().UTC().Format(time.RFC3339)
			}
			if end == "" {
				d, _ := cmd.Flags().GetDuration("duration")
				if d <= 0 {
					d = 72 * time.Hour
				}
				end = time.Now().UTC().Add(d).Format(time.RFC3339)
			}

			c := newClient(*baseURL, *adminToken, "")
			status, resp, err := c.spinRequest("Creating task...", "POST", "/v1/homare/tasks", *adminToken, map[string]any{
				"advertiser":      advertiser,
				"category":        category,
				"rewardAmount":    reward,
				"rewardAsset":     asset,
				"maxParticipants": cap,
				"startTime":       start,
				"endTime":         end,
				"criteria":        criteria,
				"minScore":        minScore,
			})
			if err != nil {
				return err
			}
			if status >= 300 {
				return fmt.Errorf("error (%d): %s", status, string(resp))
			}
			var out taskResp
			if err := json.Unmarshal(resp, &out); err != nil {
				fmt.Println(string(resp))
				return nil
			}
			fmt.Printf("%s Task created: %d (%s, %d %s x %d)\n", ui.ok("[OK]"), out.ID, out.Category, out.RewardAmount, out.RewardAsset, out.MaxParticipants)
			return nil
		},
	}
	create.Flags().StringVar(&advertiser, "advertiser", "", "Advertiser identity")
	create.Flags().StringVar(&category, "category", "SWAP", "Task category (SWAP|BRIDGE|SOCIAL|DEFI|NFT|CUSTOM)")
	create.Flags().Uint64Var(&reward, "reward", 0, "Reward amount per completion")
	create.Flags().StringVar(&asset, "asset", "USDT", "Reward asset")
	create.Flags().IntVar(&cap, "cap", 100, "Max participants")
	create.Flags().StringVar(&start, "start", "", "Start time (RFC3339, default now)")
	create.Flags().StringVar(&end, "end", "", "End time (RFC3339)")
	create.Flags().Duration("duration", 72*time.Hour, "Task window length when --end is unset")
	create.Flags().StringVar(&criteria, "criteria", "", "Verification criteria blob")
	create.Flags().IntVar(&minScore, "min-score", 0, "Minimum risk score to pay out")

	get := &cobra.Command{
		Use:   "get <id>",
		Short: "Get a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(*baseURL, *adminToken, "")
			status, resp, err := c.spinRequest("Fetching task...", "GET", "/v1/homare/tasks/"+url.PathEscape(args[0]), "", nil)
			if err != nil {
				return err
			}
			if status >= 300 {
				return fmt.Errorf("error (%d): %s", status, string(resp))
			}
			fmt.Println(string(resp))
			return nil
		},
	}

	var listStatus string
	list := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/v1/homare/tasks"
			if listStatus != "" {
				path += "?status=" + url.QueryEscape(listStatus)
			}
			c := newClient(*baseURL, *adminToken, "")
			status, resp, err := c.spinRequest("Listing tasks...", "GET", path, "", nil)
			if err != nil {
				return err
			}
			if status >= 300 {
				return fmt.Errorf("error (%d): %s", status, string(resp))
			}
			var tasks []taskResp
			if err := json.Unmarshal(resp, &tasks); err != nil {
				fmt.Println(string(resp))
				return nil
			}
			for _, t := range tasks {
				fmt.Printf("%s #%d %s %s reward=%d %s cap=%d\n", ui.info("•"), t.ID, t.Status, t.Category, t.RewardAmount, t.RewardAsset, t.MaxParticipants)
			}
			return nil
		},
	}
	list.Flags().StringVar(&listStatus, "status", "", "Filter by status (ACTIVE|PAUSED|COMPLETED|CANCELLED)")

	stats := &cobra.Command{
		Use:   "stats <id>",
		Short: "Show a task's completion funnel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if *adminToken == "" {
				return errors.New("admin token is required (run `homare auth set`)")
			}
			c := newClient(*baseURL, *adminToken, "")
			status, resp, err := c.spinRequest("Fetching stats...", "GET", "/v1/homare/tasks/"+url.PathEscape(args[0])+"/stats", *adminToken, nil)
			if err != nil {
				return err
			}
			if status >= 300 {
				return fmt.Errorf("error (%d): %s", status, string(resp))
			}
			var out statsResp
			if err := json.Unmarshal(resp, &out); err != nil {
				fmt.Println(string(resp))
				return nil
			}
			fmt.Printf("%s: %d | %s: %d | %s: %d | %s: %d | %s: %d\n",
				ui.ok("SUBMITTED"), out.Submitted,
				ui.info("VERIFIED"), out.Verified,
				ui.ok("SETTLED"), out.Settled,
				ui.warn("REMAINING"), out.Remaining,
				ui.dim("POOL"), out.PoolBalance,
			)
			return nil
		},
	}

	var toStatus string
	setStatus := &cobra.Command{
		Use:     "status <id>",
		Short:   "Change a task's status",
		Example: "homare task status 42 --to PAUSED",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if *adminToken == "" {
				return errors.New("admin token is required (run `homare auth set`)")
			}
			c := newClient(*baseURL, *adminToken, "")
			status, resp, err := c.spinRequest("Updating status...", "PATCH", "/v1/homare/tasks/"+url.PathEscape(args[0])+"/status", *adminToken, map[string]any{
				"status": toStatus,
			})
			if err != nil {
				return err
			}
			if status >= 300 {
				return fmt.Errorf("error (%d): %s", status, string(resp))
			}
			fmt.Printf("%s Task %s is now %s\n", ui.ok("[OK]"), args[0], toStatus)
			return nil
		},
	}
	setStatus.Flags().StringVar(&toStatus, "to", "", "Target status (ACTIVE|PAUSED|COMPLETED|CANCELLED)")

	task.AddCommand(create, get, list, stats, setStatus)
	return task
}

func verifierCmd(baseURL, adminToken *string, ui *ui) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verifier",
		Short: "Verifier registration",
	}

	var (
		identity string
		category string
		callback string
	)
	add := &cobra.Command{
		Use:     "add",
		Short:   "Register a verifier for a proof category",
		Example: "homare verifier add --identity chainwatch --category ONCHAIN_TX --callback https://chainwatch.example/hook",
		RunE: func(cmd *cobra.Command, args []string) error {
			if *adminToken == "" {
				return errors.New("admin token is required (run `homare auth set`)")
			}
			c := newClient(*baseURL, *adminToken, "")
			status, resp, err := c.spinRequest("Registering verifier...", "POST", "/v1/homare/verifiers", *adminToken, map[string]any{
				"identity":    identity,
				"category":    category,
				"callbackUrl": callback,
			})
			if err != nil {
				return err
			}
			if status >= 300 {
				return fmt.Errorf("error (%d): %s", status, string(resp))
			}
			fmt.Printf("%s Verifier '%s' handles %s\n", ui.ok("[OK]"), identity, category)
			return nil
		},
	}
	add.Flags().StringVar(&identity, "identity", "", "Verifier identity")
	add.Flags().StringVar(&category, "category", "", "Proof category (ONCHAIN_TX|SOCIAL|CODE_HOST|CHAT|CUSTOM)")
	add.Flags().StringVar(&callback, "callback", "", "Callback URL for proof pushes")

	remove := &cobra.Command{
		Use:   "remove <identity>",
		Short: "Remove a verifier from every category it handles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if *adminToken == "" {
				return errors.New("admin token is required (run `homare auth set`)")
			}
			c := newClient(*baseURL, *adminToken, "")
			status, resp, err := c.spinRequest("Removing verifier...", "DELETE", "/v1/homare/verifiers/"+url.PathEscape(args[0]), *adminToken, nil)
			if err != nil {
				return err
			}
			if status >= 300 {
				return fmt.Errorf("error (%d): %s", status, string(resp))
			}
			fmt.Printf("%s %s\n", ui.ok("[OK]"), string(resp))
			return nil
		},
	}

	cmd.AddCommand(add, remove)
	return cmd
}

func poolCmd(baseURL, adminToken *string, ui *ui) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pool",
		Short: "Reward pool operations",
	}

	var amount uint64
	deposit := &cobra.Command{
		Use:     "deposit <asset>",
		Short:   "Deposit into an asset pool",
		Example: "homare pool deposit USDT --amount 100000",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if *adminToken == "" {
				return errors.New("admin token is required (run `homare auth set`)")
			}
			if amount == 0 {
				return errors.New("amount must be positive")
			}
			c := newClient(*baseURL, *adminToken, "")
			status, resp, err := c.spinRequest("Depositing...", "POST", "/v1/homare/pools/"+url.PathEscape(args[0])+"/deposits", *adminToken, map[string]any{
				"amount": amount,
			})
			if err != nil {
				return err
			}
			if status >= 300 {
				return fmt.Errorf("error (%d): %s", status, string(resp))
			}
			fmt.Printf("%s %s\n", ui.ok("[OK]"), string(resp))
			return nil
		},
	}
	deposit.Flags().Uint64Var(&amount, "amount", 0, "Amount to deposit")

	balance := &cobra.Command{
		Use:   "balance <asset>",
		Short: "Show an asset pool's balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if *adminToken == "" {
				return errors.New("admin token is required (run `homare auth set`)")
			}
			c := newClient(*baseURL, *adminToken, "")
			status, resp, err := c.spinRequest("Fetching balance...", "GET", "/v1/homare/pools/"+url.PathEscape(args[0]), *adminToken, nil)
			if err != nil {
				return err
			}
			if status >= 300 {
				return fmt.Errorf("error (%d): %s", status, string(resp))
			}
			fmt.Println(string(resp))
			return nil
		},
	}

	asset := &cobra.Command{
		Use:   "allow <asset>",
		Short: "Add an asset to the reward allow-list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if *adminToken == "" {
				return errors.New("admin token is required (run `homare auth set`)")
			}
			c := newClient(*baseURL, *adminToken, "")
			status, resp, err := c.spinRequest("Allow-listing asset...", "POST", "/v1/homare/assets", *adminToken, map[string]any{
				"asset": args[0],
			})
			if err != nil {
				return err
			}
			if status >= 300 {
				return fmt.Errorf("error (%d): %s", status, string(resp))
			}
			fmt.Printf("%s Asset %s allow-listed\n", ui.ok("[OK]"), args[0])
			return nil
		},
	}

	cmd.AddCommand(deposit, balance, asset)
	return cmd
}

func referralCmd(baseURL *string, ui *ui) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "referral",
		Short: "Referral codes and chains",
	}

	mint := &cobra.Command{
		Use:   "mint <identity>",
		Short: "Mint a referral code for an identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(*baseURL, "", "")
			status, resp, err := c.spinRequest("Minting code...", "POST", "/v1/homare/referrals/codes", "", map[string]any{
				"identity": args[0],
			})
			if err != nil {
				return err
			}
			if status >= 300 {
				return fmt.Errorf("error (%d): %s", status, string(resp))
			}
			var out struct {
				Code string `json:"code"`
			}
			if err := json.Unmarshal(resp, &out); err != nil {
				fmt.Println(string(resp))
				return nil
			}
			fmt.Printf("%s Code for %s: %s\n", ui.ok("[OK]"), args[0], ui.title(out.Code))
			return nil
		},
	}

	var code string
	register := &cobra.Command{
		Use:     "register <participant>",
		Short:   "Register a participant under a referral code",
		Example: "homare referral register alice --code K7TWNXQA",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if code == "" {
				return errors.New("code is required")
			}
			c := newClient(*baseURL, "", "")
			status, resp, err := c.spinRequest("Registering referral...", "POST", "/v1/homare/referrals", "", map[string]any{
				"participant":  args[0],
				"referrerCode": code,
			})
			if err != nil {
				return err
			}
			if status >= 300 {
				return fmt.Errorf("error (%d): %s", status, string(resp))
			}
			fmt.Printf("%s %s\n", ui.ok("[OK]"), string(resp))
			return nil
		},
	}
	register.Flags().StringVar(&code, "code", "", "Referrer's code")

	show := &cobra.Command{
		Use:   "show <participant>",
		Short: "Show a participant's referral record and earnings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(*baseURL, "", "")
			status, resp, err := c.spinRequest("Fetching referral...", "GET", "/v1/homare/referrals/"+url.PathEscape(args[0]), "", nil)
			if err != nil {
				return err
			}
			if status >= 300 {
				return fmt.Errorf("error (%d): %s", status, string(resp))
			}
			fmt.Println(string(resp))
			return nil
		},
	}

	cmd.AddCommand(mint, register, show)
	return cmd
}

func settlementCmd(baseURL, adminToken *string, ui *ui) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settlement",
		Short: "Settlement records and owed retries",
	}

	var taskID string
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent settlements",
		RunE: func(cmd *cobra.Command, args []string) error {
			if *adminToken == "" {
				return errors.New("admin token is required (run `homare auth set`)")
			}
			path := "/v1/homare/settlements"
			if taskID != "" {
				path += "?taskId=" + url.QueryEscape(taskID)
			}
			c := newClient(*baseURL, *adminToken, "")
			status, resp, err := c.spinRequest("Fetching settlements...", "GET", path, *adminToken, nil)
			if err != nil {
				return err
			}
			if status >= 300 {
				return fmt.Errorf("error (%d): %s", status, string(resp))
			}
			fmt.Println(string(resp))
			return nil
		},
	}
	list.Flags().StringVar(&taskID, "task", "", "Filter by task id")

	owed := &cobra.Command{
		Use:   "owed",
		Short: "List deferred settlements",
		RunE: func(cmd *cobra.Command, args []string) error {
			if *adminToken == "" {
				return errors.New("admin token is required (run `homare auth set`)")
			}
			c := newClient(*baseURL, *adminToken, "")
			status, resp, err := c.spinRequest("Fetching owed...", "GET", "/v1/homare/owed", *adminToken, nil)
			if err != nil {
				return err
			}
			if status >= 300 {
				return fmt.Errorf("error (%d): %s", status, string(resp))
			}
			fmt.Println(string(resp))
			return nil
		},
	}

	retry := &cobra.Command{
		Use:   "retry",
		Short: "Replay deferred settlements now",
		RunE: func(cmd *cobra.Command, args []string) error {
			if *adminToken == "" {
				return errors.New("admin token is required (run `homare auth set`)")
			}
			c := newClient(*baseURL, *adminToken, "")
			status, resp, err := c.spinRequest("Retrying owed...", "POST", "/v1/homare/owed/retries", *adminToken, nil)
			if err != nil {
				return err
			}
			if status >= 300 {
				return fmt.Errorf("error (%d): %s", status, string(resp))
			}
			fmt.Printf("%s %s\n", ui.ok("[OK]"), string(resp))
			return nil
		},
	}

	cmd.AddCommand(list, owed, retry)
	return cmd
}

func verdictCmd(baseURL, verifierToken *string, ui *ui) *cobra.Command {
	var (
		nonce       uint64
		verified    bool
		riskScore   int
		proofDigest string
	)
	cmd := &cobra.Command{
		Use:     "verdict <request-id>",
		Short:   "Deliver a verdict for a verification request",
		Example: "homare verdict 17 --nonce 42 --verified --risk-score 85",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if *verifierToken == "" {
				return errors.New("verifier token is required (run `homare auth set`)")
			}
			c := newClient(*baseURL, "", *verifierToken)
			status, resp, err := c.spinRequest("Delivering verdict...", "POST", "/v1/homare/verdicts/"+url.PathEscape(args[0]), *verifierToken, map[string]any{
				"nonce":       nonce,
				"verified":    verified,
				"riskScore":   riskScore,
				"proofDigest": proofDigest,
			})
			if err != nil {
				return err
			}
			if status >= 300 {
				return fmt.Errorf("error (%d): %s", status, string(resp))
			}
			fmt.Printf("%s Verdict recorded for request %s\n", ui.ok("[OK]"), args[0])
			return nil
		},
	}
	cmd.Flags().Uint64Var(&nonce, "nonce", 0, "Strictly increasing verifier nonce")
	cmd.Flags().BoolVar(&verified, "verified", false, "Mark the completion verified")
	cmd.Flags().IntVar(&riskScore, "risk-score", 0, "Risk score (0-100)")
	cmd.Flags().StringVar(&proofDigest, "proof-digest", "", "Digest of the verified proof")
	return cmd
}

func seedCmd(baseURL *string, ui *ui) *cobra.Command {
	var (
		taskID      uint64
		count       int
		concurrency int
		prefix      string
	)
	cmd := &cobra.Command{
		Use:     "seed",
		Short:   "Submit synthetic completions against a task (load/demo)",
		Example: "homare seed --task 1 --count 200 --concurrency 10",
		RunE: func(cmd *cobra.Command, args []string) error {
			if taskID == 0 {
				return errors.New("task is required")
			}
			if count <= 0 {
				count = 1
			}
			if concurrency <= 0 {
				concurrency = 1
			}

			c := newClient(*baseURL, "", "")
			path := fmt.Sprintf("/v1/homare/tasks/%d/completions", taskID)
			bar := progressbar.NewOptions(count,
				progressbar.OptionSetDescription("Submitting completions"),
				progressbar.OptionSetWidth(18),
				progressbar.OptionShowCount(),
				progressbar.OptionClearOnFinish(),
			)

			ctx := context.Background()
			jobs := make(chan int)
			var wg sync.WaitGroup
			var mu sync.Mutex
			accepted, rejected := 0, 0

			for i := 0; i < concurrency; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for n := range jobs {
						select {
						case <-ctx.Done():
							return
						default:
						}
						participant := fmt.Sprintf("%s-%d", prefix, n)
						status, _, err := c.request("POST", path, "", map[string]any{
							"participant": participant,
							"proof":       "0x" + strconv.FormatInt(int64(n), 16),
						})
						mu.Lock()
						if err == nil && status == http.StatusAccepted {
							accepted++
						} else {
							rejected++
						}
						mu.Unlock()
						_ = bar.Add(1)
					}
				}()
			}
			for n := 0; n < count; n++ {
				jobs <- n
			}
			close(jobs)
			wg.Wait()

			fmt.Printf("%s accepted=%d %s rejected=%d\n", ui.ok("[OK]"), accepted, ui.warn("[WARN]"), rejected)
			return nil
		},
	}
	cmd.Flags().Uint64Var(&taskID, "task", 0, "Task id to submit against")
	cmd.Flags().IntVar(&count, "count", 10, "Number of completions")
	cmd.Flags().IntVar(&concurrency, "concurrency", 1, "Concurrent submitters")
	cmd.Flags().StringVar(&prefix, "prefix", "seed", "Participant name prefix")
	return cmd
}

func newClient(baseURL, adminToken, verifierToken string) *client {
	return &client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		adminToken:    adminToken,
		verifierToken: verifierToken,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
	}
}

func getenv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func helpTemplate(ui *ui) string {
	title := ui.title("homare")
	return fmt.Sprintf(`%s — CLI for homare

Usage:
  {{.UseLine}}

Commands:
{{range .Commands}}{{if (or .IsAvailableCommand .IsAdditionalHelpTopicCommand)}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}

Flags:
  {{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}

Global Flags:
  {{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}

Config:
  %s

Examples:
  homare init
  homare pool deposit USDT --amount 100000
  homare task create --advertiser acme --category SWAP --reward 100 --asset USDT --cap 500
  homare verifier add --identity chainwatch --category ONCHAIN_TX --callback https://chainwatch.example/hook
  homare task stats 1

`, title, configPath())
}

func configPath() string {
	if v := strings.TrimSpace(os.Getenv("HOMARE_CONFIG_DIR")); v != "" {
		return filepath.Join(v, "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.yaml"
	}
	return filepath.Join(home, ".homare", "config.yaml")
}

func promptSecret(label string) (string, error) {
	fmt.Printf("%s: ", label)
	b, err := termReadPassword()
	fmt.Println()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

func termReadPassword() ([]byte, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		reader := bufio.NewReader(os.Stdin)
		line, err := reader.ReadString('\n')
		return []byte(strings.TrimSpace(line)), err
	}
	return term.ReadPassword(fd)
}

func loadConfig() (cliConfig, string, error) {
	path := configPath()
	var cfg cliConfig
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cliConfig{Profiles: map[string]profile{}}, path, nil
		}
		return cfg, path, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, path, err
	}
	if cfg.Profiles == nil {
		cfg.Profiles = map[string]profile{}
	}
	return cfg, path, nil
}

func saveConfig(cfg cliConfig, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func resolveProfileName(flag string, cfg cliConfig) string {
	if strings.TrimSpace(flag) != "" {
		return strings.TrimSpace(flag)
	}
	if v := strings.TrimSpace(os.Getenv("HOMARE_PROFILE")); v != "" {
		return v
	}
	if cfg.CurrentProfile != "" {
		return cfg.CurrentProfile
	}
	return "default"
}

func prompt(r *bufio.Reader, label, def string) string {
	if def != "" {
		fmt.Printf("%s [%s]: ", label, def)
	} else {
		fmt.Printf("%s: ", label)
	}
	line, _ := r.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return def
	}
	return line
}

func maskToken(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "<unset>"
	}
	if len(v) <= 8 {
		return "****"
	}
	return v[:4] + "..." + v[len(v)-4:]
}

func emptyOr(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
