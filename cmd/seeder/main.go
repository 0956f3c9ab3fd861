// Command seeder queues upstream fetches for a list of players through the
// running API, for filling a local database.
//
//	seeder pge#11208 Kiriko-2222@console
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/owmeta/stats-api/internal/models"
)

const defaultAPIURL = "http://localhost:8080"

type fetchRequest struct {
	Players []models.PlayerRef `json:"players"`
}

// parseRef reads "battletag" or "battletag@platform".
func parseRef(arg string) models.PlayerRef {
	tag, platform, _ := strings.Cut(strings.TrimSpace(arg), "@")
	return models.PlayerRef{
		Battletag: models.CanonicalBattletag(tag),
		Platform:  models.NormalizePlatform(platform),
	}
}

func main() {
	if len(os.Args) < 2 {
		log.Fatalf("usage: %s battletag[@platform] ...", os.Args[0])
	}

	apiURL := os.Getenv("OWSTATS_API_URL")
	if apiURL == "" {
		apiURL = defaultAPIURL
	}

	req := fetchRequest{}
	for _, arg := range os.Args[1:] {
		req.Players = append(req.Players, parseRef(arg))
	}

	payload, err := json.Marshal(req)
	if err != nil {
		log.Fatalf("Failed to marshal JSON: %v", err)
	}

	client := &http.Client{Timeout: 5 * time.Minute}
	resp, err := client.Post(strings.TrimRight(apiURL, "/")+"/api/v1/players/fetch", "application/json", bytes.NewReader(payload))
	if err != nil {
		log.Fatalf("Failed to send request: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	fmt.Printf("Status: %s\n", resp.Status)
	fmt.Printf("Response: %s\n", string(body))

	if resp.StatusCode != http.StatusOK {
		os.Exit(1)
	}
}
