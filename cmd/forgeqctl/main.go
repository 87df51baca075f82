package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const defaultGateway = "http://localhost:8081"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "submit":
		runSubmitCmd(args)
	case "get":
		runGetCmd(args)
	case "list":
		runListCmd(args)
	case "watch":
		runWatchCmd(args)
	case "plans":
		runPlansCmd(args)
	case "metrics":
		runMetricsCmd(args)
	default:
		usage()
		os.Exit(1)
	}
}

func runSubmitCmd(args []string) {
	fs := newFlagSet("submit")
	language := fs.String("language", "", "target language")
	framework := fs.String("framework", "", "target framework")
	reqs := fs.String("requirements", "", "comma-separated requirements")
	watch := fs.Bool("watch", false, "stream job updates after submit")
	fs.ParseArgs(args)
	if fs.NArg() < 1 {
		fail("task description required")
	}

	body := map[string]any{"description": strings.Join(fs.Args(), " ")}
	if *language != "" {
		body["language"] = *language
	}
	if *framework != "" {
		body["framework"] = *framework
	}
	if *reqs != "" {
		var list []string
		for _, part := range strings.Split(*reqs, ",") {
			if p := strings.TrimSpace(part); p != "" {
				list = append(list, p)
			}
		}
		body["requirements"] = list
	}

	var accepted struct {
		JobID   string `json:"job_id"`
		Status  string `json:"status"`
		PollURL string `json:"poll_url"`
	}
	doJSON(fs, http.MethodPost, "/api/v1/jobs", body, &accepted)
	printJSON(accepted)

	if *watch {
		streamJob(fs, accepted.JobID)
	}
}

func runGetCmd(args []string) {
	fs := newFlagSet("get")
	fs.ParseArgs(args)
	if fs.NArg() < 1 {
		fail("job id required")
	}
	var job map[string]any
	doJSON(fs, http.MethodGet, "/api/v1/jobs/"+fs.Arg(0), nil, &job)
	printJSON(job)
}

func runListCmd(args []string) {
	fs := newFlagSet("list")
	fs.ParseArgs(args)
	var listing map[string]any
	doJSON(fs, http.MethodGet, "/api/v1/jobs", nil, &listing)
	printJSON(listing)
}

func runWatchCmd(args []string) {
	fs := newFlagSet("watch")
	fs.ParseArgs(args)
	if fs.NArg() < 1 {
		fail("job id required")
	}
	streamJob(fs, fs.Arg(0))
}

func runPlansCmd(args []string) {
	fs := newFlagSet("plans")
	fs.ParseArgs(args)
	var plans map[string]any
	doJSON(fs, http.MethodGet, "/api/v1/plans", nil, &plans)
	printJSON(plans)
}

func runMetricsCmd(args []string) {
	fs := newFlagSet("metrics")
	fs.ParseArgs(args)
	var metrics map[string]any
	doJSON(fs, http.MethodGet, "/api/v1/metrics", nil, &metrics)
	printJSON(metrics)
}

func streamJob(fs *flagSet, jobID string) {
	if jobID == "" {
		fail("job id required")
	}
	wsURL := strings.Replace(strings.TrimRight(*fs.gateway, "/"), "http", "ws", 1) +
		"/api/v1/jobs/" + jobID + "/watch"

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	check(err)
	defer conn.Close()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	go func() {
		<-interrupt
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame map[string]any
		if err := json.Unmarshal(data, &frame); err != nil {
			fmt.Println(string(data))
			continue
		}
		printJSON(frame)
	}
}

type flagSet struct {
	*flag.FlagSet
	gateway *string
	apiKey  *string
}

func newFlagSet(name string) *flagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	gateway := fs.String("gateway", envOr("FORGEQ_GATEWAY", defaultGateway), "gateway base url")
	apiKey := fs.String("api-key", envOr("FORGEQ_API_KEY", ""), "api key")
	return &flagSet{FlagSet: fs, gateway: gateway, apiKey: apiKey}
}

func (fs *flagSet) ParseArgs(args []string) {
	if err := fs.Parse(args); err != nil {
		fail(err.Error())
	}
}

func doJSON(fs *flagSet, method, path string, body, out any) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		check(err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, strings.TrimRight(*fs.gateway, "/")+path, reader)
	check(err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if *fs.apiKey != "" {
		req.Header.Set("X-API-Key", *fs.apiKey)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	check(err)
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		fail(fmt.Sprintf("%s: %s", resp.Status, strings.TrimSpace(string(msg))))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			fail(fmt.Sprintf("invalid response: %v", err))
		}
	}
}

func printJSON(value any) {
	data, err := json.MarshalIndent(value, "", "  ")
	check(err)
	fmt.Println(string(data))
}

func usage() {
	fmt.Print(`forgeqctl - ForgeQ gateway CLI

Usage:
  forgeqctl submit <description...> [--language go] [--framework gin] [--requirements "a,b"] [--watch]
  forgeqctl get <job_id>
  forgeqctl list
  forgeqctl watch <job_id>
  forgeqctl plans
  forgeqctl metrics

Global flags:
  --gateway   Gateway base URL (default from FORGEQ_GATEWAY)
  --api-key   API key (default from FORGEQ_API_KEY)
`)
}

func envOr(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

func check(err error) {
	if err != nil {
		fail(err.Error())
	}
}

func fail(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}
