// Command simulate-patient plays a patient against a local API by posting signed
// WhatsApp webhook notifications. Replies appear in the worker log when no
// WhatsApp access token is configured.
//
// Usage:
//
//	WHATSAPP_APP_SECRET=... API_URL=http://localhost:8080 \
//	  go run ./scripts/simulate-patient -pnid 1098765 -from 6591234567 hi 1 1 1 1 1 yes
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/clinic-scheduler/internal/messaging"
	"github.com/wolfman30/clinic-scheduler/internal/messaging/whatsappclient"
)

func main() {
	pnid := flag.String("pnid", "1098765", "receiving phone_number_id mapped in WHATSAPP_CLINIC_MAP_JSON")
	from := flag.String("from", "6591234567", "patient wa_id")
	name := flag.String("name", "Test Patient", "patient profile name")
	pause := flag.Duration("pause", 2*time.Second, "delay between messages")
	flag.Parse()

	apiURL := strings.TrimRight(os.Getenv("API_URL"), "/")
	if apiURL == "" {
		apiURL = "http://localhost:8080"
	}
	secret := os.Getenv("WHATSAPP_APP_SECRET")

	texts := flag.Args()
	if len(texts) == 0 {
		texts = []string{"hi"}
	}
	client := &http.Client{Timeout: 10 * time.Second}

	for i, text := range texts {
		body, err := json.Marshal(notification(*pnid, *from, *name, text))
		if err != nil {
			fmt.Printf("encode: %v\n", err)
			os.Exit(1)
		}
		req, err := http.NewRequest(http.MethodPost, apiURL+"/webhooks/whatsapp", bytes.NewReader(body))
		if err != nil {
			fmt.Printf("request: %v\n", err)
			os.Exit(1)
		}
		req.Header.Set("Content-Type", "application/json")
		if secret != "" {
			req.Header.Set("X-Hub-Signature-256", whatsappclient.Sign(secret, body))
		}
		resp, err := client.Do(req)
		if err != nil {
			fmt.Printf("post %q: %v\n", text, err)
			os.Exit(1)
		}
		resp.Body.Close()
		fmt.Printf("[%d/%d] %q -> %d\n", i+1, len(texts), text, resp.StatusCode)
		if i < len(texts)-1 {
			time.Sleep(*pause)
		}
	}
}

func notification(pnid, from, name, text string) messaging.WebhookPayload {
	msg := messaging.WebhookMessage{
		ID:        "wamid.sim-" + uuid.NewString(),
		From:      from,
		Timestamp: strconv.FormatInt(time.Now().Unix(), 10),
		Type:      "text",
	}
	msg.Text = &struct {
		Body string `json:"body"`
	}{Body: text}

	contact := messaging.Contact{WaID: from}
	contact.Profile.Name = name

	return messaging.WebhookPayload{
		Object: "whatsapp_business_account",
		Entry: []messaging.WebhookEntry{{
			ID: "sim",
			Changes: []messaging.WebhookChange{{
				Field: "messages",
				Value: messaging.ChangeValue{
					MessagingProduct: "whatsapp",
					Metadata:         messaging.ValueMetadata{PhoneNumberID: pnid},
					Contacts:         []messaging.Contact{contact},
					Messages:         []messaging.WebhookMessage{msg},
				},
			}},
		}},
	}
}
