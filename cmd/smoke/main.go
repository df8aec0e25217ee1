// Command smoke drives a running server through one generation day:
// trigger, idempotent re-trigger, episode read, nightly audit and the
// director queue. Run the server with -seed config/world.toml first.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

var client = &http.Client{Timeout: 10 * time.Minute}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "server base URL")
	heroID := flag.String("hero", "hero-nova", "hero to generate for")
	director := flag.String("director", "", "approve every pending proposal as this director")
	flag.Parse()

	fmt.Println("Starting smoke test...")

	step("health", func() error {
		_, err := send(*baseURL, http.MethodGet, "/healthz", nil, http.StatusOK)
		return err
	})

	var episodeID string
	step("generate", func() error {
		var res struct {
			Status  string `json:"status"`
			Episode struct {
				ID     string `json:"id"`
				Title  string `json:"title"`
				Status struct {
					Stage string `json:"stage"`
				} `json:"status"`
			} `json:"episode"`
		}
		if err := sendJSON(*baseURL, http.MethodPost, "/heroes/"+*heroID+"/episodes", nil, &res, http.StatusCreated, http.StatusOK); err != nil {
			return err
		}
		episodeID = res.Episode.ID
		fmt.Printf("  %s: %q (%s)\n", res.Status, res.Episode.Title, res.Episode.Status.Stage)
		return nil
	})

	step("re-trigger is idempotent", func() error {
		var res struct {
			Status  string `json:"status"`
			Episode struct {
				ID string `json:"id"`
			} `json:"episode"`
		}
		if err := sendJSON(*baseURL, http.MethodPost, "/heroes/"+*heroID+"/episodes", nil, &res, http.StatusOK); err != nil {
			return err
		}
		if res.Status != "already_generated" || res.Episode.ID != episodeID {
			return fmt.Errorf("expected already_generated %s, got %s %s", episodeID, res.Status, res.Episode.ID)
		}
		return nil
	})

	step("read episode", func() error {
		_, err := send(*baseURL, http.MethodGet, "/episodes/"+episodeID, nil, http.StatusOK)
		return err
	})

	step("nightly audit", func() error {
		body, err := send(*baseURL, http.MethodPost, "/jobs/nightly", nil, http.StatusOK)
		fmt.Printf("  %s\n", body)
		return err
	})

	step("director queue", func() error {
		var res struct {
			Proposals []struct {
				ID    string `json:"id"`
				Title string `json:"title"`
			} `json:"proposals"`
		}
		if err := sendJSON(*baseURL, http.MethodGet, "/canon/proposals", nil, &res, http.StatusOK); err != nil {
			return err
		}
		for _, p := range res.Proposals {
			fmt.Printf("  proposal %s: %q\n", p.ID, p.Title)
			if *director == "" {
				continue
			}
			payload := map[string]string{"director_id": *director}
			if _, err := send(*baseURL, http.MethodPost, "/canon/proposals/"+p.ID+"/approve", payload, http.StatusOK, http.StatusConflict); err != nil {
				return err
			}
		}
		return nil
	})

	fmt.Println("Smoke test passed")
}

func step(name string, fn func() error) {
	fmt.Printf("%s...\n", name)
	if err := fn(); err != nil {
		fmt.Printf("FAILED: %s: %v\n", name, err)
		os.Exit(1)
	}
	fmt.Printf("PASSED: %s\n", name)
}

func sendJSON(baseURL, method, endpoint string, payload, out any, want ...int) error {
	body, err := send(baseURL, method, endpoint, payload, want...)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", endpoint, err)
	}
	return nil
}

func send(baseURL, method, endpoint string, payload any, want ...int) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, baseURL+endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)

	for _, code := range want {
		if resp.StatusCode == code {
			return respBody, nil
		}
	}
	return nil, fmt.Errorf("status %d: %s", resp.StatusCode, respBody)
}
