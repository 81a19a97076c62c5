// Command seed-clinic loads a clinic definition into a local stack: doctors and
// services go straight into Postgres, hours and profile through the admin API.
//
// Usage:
//
//	DATABASE_URL=... API_URL=http://localhost:8080 go run ./scripts/seed-clinic testdata/sample-clinic.json
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wolfman30/clinic-scheduler/internal/clinic"
	"github.com/wolfman30/clinic-scheduler/internal/schedule"
)

type seedFile struct {
	Profile  clinic.Profile  `json:"profile"`
	Schedule schedule.Config `json:"schedule"`
	Doctors  []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"doctors"`
	Services []struct {
		ID              string   `json:"id"`
		Name            string   `json:"name"`
		DurationMinutes int      `json:"duration_minutes"`
		Doctors         []string `json:"doctors"`
	} `json:"services"`
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run ./scripts/seed-clinic <clinic-file.json>")
		os.Exit(1)
	}
	apiURL := strings.TrimRight(os.Getenv("API_URL"), "/")
	if apiURL == "" {
		apiURL = "http://localhost:8080"
	}
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		fmt.Println("DATABASE_URL is required")
		os.Exit(1)
	}

	data, err := os.ReadFile(os.Args[1])
	if err != nil {
		fail("read file", err)
	}
	var seed seedFile
	if err := json.Unmarshal(data, &seed); err != nil {
		fail("parse file", err)
	}
	clinicID := seed.Profile.ClinicID
	if clinicID == "" {
		fail("profile.clinic_id is required", nil)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		fail("connect postgres", err)
	}
	defer pool.Close()

	if err := seedCatalog(ctx, pool, clinicID, &seed); err != nil {
		fail("seed catalog", err)
	}
	fmt.Printf("seeded %d doctors and %d services for %s\n", len(seed.Doctors), len(seed.Services), clinicID)

	client := &http.Client{Timeout: 10 * time.Second}
	if err := put(ctx, client, apiURL+"/admin/clinics/"+clinicID+"/schedule", seed.Schedule); err != nil {
		fail("update schedule", err)
	}
	if err := put(ctx, client, apiURL+"/admin/clinics/"+clinicID+"/profile", seed.Profile); err != nil {
		fail("update profile", err)
	}
	fmt.Printf("schedule and profile stored via %s\n", apiURL)
}

func seedCatalog(ctx context.Context, pool *pgxpool.Pool, clinicID string, seed *seedFile) error {
	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		for _, d := range seed.Doctors {
			if _, err := tx.Exec(ctx, `
				INSERT INTO doctors (id, clinic_id, name) VALUES ($1, $2, $3)
				ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, active = TRUE
			`, d.ID, clinicID, d.Name); err != nil {
				return fmt.Errorf("doctor %s: %w", d.ID, err)
			}
		}
		for _, s := range seed.Services {
			if _, err := tx.Exec(ctx, `
				INSERT INTO services (id, clinic_id, name, duration_minutes) VALUES ($1, $2, $3, $4)
				ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, duration_minutes = EXCLUDED.duration_minutes
			`, s.ID, clinicID, s.Name, s.DurationMinutes); err != nil {
				return fmt.Errorf("service %s: %w", s.ID, err)
			}
			if _, err := tx.Exec(ctx, `DELETE FROM service_doctors WHERE service_id = $1`, s.ID); err != nil {
				return fmt.Errorf("service %s assignments: %w", s.ID, err)
			}
			for priority, doctorID := range s.Doctors {
				if _, err := tx.Exec(ctx, `
					INSERT INTO service_doctors (service_id, doctor_id, priority) VALUES ($1, $2, $3)
				`, s.ID, doctorID, priority); err != nil {
					return fmt.Errorf("service %s doctor %s: %w", s.ID, doctorID, err)
				}
			}
		}
		return nil
	})
}

func put(ctx context.Context, client *http.Client, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s returned %d: %s", url, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

func fail(msg string, err error) {
	if err != nil {
		fmt.Printf("error: %s: %v\n", msg, err)
	} else {
		fmt.Printf("error: %s\n", msg)
	}
	os.Exit(1)
}
