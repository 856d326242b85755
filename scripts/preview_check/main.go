// Command preview_check replays preview requests against a running API and
// fails when repeated runs of the same payload produce different timelines.
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"
)

type target struct {
	PlanGroupID string          `json:"planGroupId"`
	Payload     json.RawMessage `json:"payload"`
	Critical    bool            `json:"critical"`
}

type config struct {
	Targets []target `json:"targets"`
}

type comparison struct {
	Target   target
	Runs     int
	Statuses []int
	Stable   bool
	Error    error
	Slowest  time.Duration
}

func main() {
	var (
		base        string
		token       string
		targetsPath string
		runs        int
		timeout     time.Duration
	)

	flag.StringVar(&base, "base", "http://localhost:8080/api/v1", "API base URL including prefix")
	flag.StringVar(&token, "token", os.Getenv("PLANNER_TOKEN"), "Bearer token")
	flag.StringVar(&targetsPath, "targets", filepath.Join("scripts", "preview_check", "targets.json"), "Path to JSON targets file")
	flag.IntVar(&runs, "runs", 3, "Requests per target")
	flag.DurationVar(&timeout, "timeout", 10*time.Second, "HTTP client timeout")
	flag.Parse()

	if runs < 2 {
		log.Fatalf("runs must be at least 2")
	}
	targets, err := loadTargets(targetsPath)
	if err != nil {
		log.Fatalf("failed to load targets: %v", err)
	}

	client := &http.Client{Timeout: timeout}
	var (
		comparisons []comparison
		breaking    int
		optional    int
	)
	for _, t := range targets {
		comp := checkTarget(client, base, token, t, runs)
		if comp.Error != nil || !comp.Stable {
			if t.Critical {
				breaking++
			} else {
				optional++
			}
		}
		comparisons = append(comparisons, comp)
	}

	printReport(comparisons)
	fmt.Printf("Unstable critical previews: %d, other: %d\n", breaking, optional)
	if breaking > 0 {
		os.Exit(1)
	}
}

func loadTargets(path string) ([]target, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if len(cfg.Targets) == 0 {
		return nil, fmt.Errorf("no targets defined in %s", path)
	}
	for i, t := range cfg.Targets {
		if t.PlanGroupID == "" {
			return nil, fmt.Errorf("target %d has no planGroupId", i)
		}
	}
	return cfg.Targets, nil
}

func checkTarget(client *http.Client, base, token string, tgt target, runs int) comparison {
	comp := comparison{Target: tgt, Runs: runs, Stable: true}
	var first interface{}
	for i := 0; i < runs; i++ {
		status, timeline, dur, err := preview(client, base, token, tgt)
		if dur > comp.Slowest {
			comp.Slowest = dur
		}
		if err != nil {
			comp.Error = err
			comp.Stable = false
			return comp
		}
		comp.Statuses = append(comp.Statuses, status)
		if i == 0 {
			first = timeline
			continue
		}
		if status != comp.Statuses[0] || !reflect.DeepEqual(first, timeline) {
			comp.Stable = false
		}
	}
	return comp
}

// preview returns the response status and the data.timeline subtree. The
// cached flag and response meta are ignored since they differ between a
// cold and a warm cache.
func preview(client *http.Client, base, token string, tgt target) (int, interface{}, time.Duration, error) {
	if client == nil {
		return 0, nil, 0, errors.New("nil client")
	}
	url := fmt.Sprintf("%s/plan-groups/%s/preview", strings.TrimRight(base, "/"), tgt.PlanGroupID)
	payload := tgt.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, 0, err
	}
	defer resp.Body.Close()
	elapsed := time.Since(start)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, elapsed, fmt.Errorf("read body: %w", err)
	}
	var envelope struct {
		Data *struct {
			Timeline    interface{} `json:"timeline"`
			Diagnostics interface{} `json:"diagnostics"`
		} `json:"data"`
		Error interface{} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return resp.StatusCode, nil, elapsed, fmt.Errorf("decode body: %w", err)
	}
	if envelope.Data == nil {
		return resp.StatusCode, envelope.Error, elapsed, nil
	}
	return resp.StatusCode, []interface{}{envelope.Data.Timeline, envelope.Data.Diagnostics}, elapsed, nil
}

func printReport(comps []comparison) {
	fmt.Println("Preview determinism report")
	fmt.Println("==========================")
	for _, c := range comps {
		status := "STABLE"
		if c.Error != nil {
			status = "ERROR"
		} else if !c.Stable {
			status = "UNSTABLE"
		}
		fmt.Printf("[%s] plan group %s (critical=%v)\n", status, c.Target.PlanGroupID, c.Target.Critical)
		if c.Error != nil {
			fmt.Printf("  error: %v\n", c.Error)
			continue
		}
		fmt.Printf("  runs: %d statuses: %v slowest: %s\n", c.Runs, c.Statuses, c.Slowest)
	}
}
