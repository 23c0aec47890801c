// Package importer replays historical webhook payload files through the
// same store contract live traffic uses. No separate ingestion logic, no
// fanout: the store is the only side effect.
package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"courier/cmd/internal/chat"
)

// Stats summarizes one import run.
type Stats struct {
	Files          int
	Messages       int
	StatusRecords  int
	StatusAdvances int
	Skipped        int
}

// Importer replays payload files into a Store.
type Importer struct {
	log   *slog.Logger
	store chat.Store

	// Maps payload message ids onto store-assigned ids so that status
	// records from later files can advance the message they reference.
	byExternalID map[string]string
}

// New constructs an Importer.
func New(log *slog.Logger, store chat.Store) *Importer {
	return &Importer{
		log:          log,
		store:        store,
		byExternalID: make(map[string]string),
	}
}

// ImportDir replays every *.json file in dir, in name order so that runs
// are deterministic.
func (im *Importer) ImportDir(ctx context.Context, dir string) (Stats, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Stats{}, fmt.Errorf("read payload dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var total Stats
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return total, fmt.Errorf("read %s: %w", name, err)
		}

		st, err := im.ImportPayload(ctx, data)
		if err != nil {
			return total, fmt.Errorf("import %s: %w", name, err)
		}
		total.Files++
		total.Messages += st.Messages
		total.StatusRecords += st.StatusRecords
		total.StatusAdvances += st.StatusAdvances
		total.Skipped += st.Skipped

		im.log.Info("import.file",
			"file", name,
			"messages", st.Messages,
			"statuses", st.StatusRecords,
			"advances", st.StatusAdvances,
		)
	}
	return total, nil
}

// ---- payload shape ----

type payload struct {
	MetaData struct {
		Entry []struct {
			Changes []struct {
				Value changeValue `json:"value"`
			} `json:"changes"`
		} `json:"entry"`
	} `json:"metaData"`
}

type changeValue struct {
	Messages []payloadMessage `json:"messages"`
	Statuses []payloadStatus  `json:"statuses"`
	Contacts []struct {
		WaID    string `json:"wa_id"`
		Profile struct {
			Name string `json:"name"`
		} `json:"profile"`
	} `json:"contacts"`
}

type payloadMessage struct {
	ID        string       `json:"id"`
	From      string       `json:"from"`
	Timestamp flexibleTime `json:"timestamp"`
	Type      string       `json:"type"`
	Text      struct {
		Body string `json:"body"`
	} `json:"text"`
}

type payloadStatus struct {
	ID          string       `json:"id"`
	MetaMsgID   string       `json:"meta_msg_id"`
	RecipientID string       `json:"recipient_id"`
	Status      string       `json:"status"`
	Timestamp   flexibleTime `json:"timestamp"`
}

// flexibleTime accepts unix seconds as a JSON number or string.
type flexibleTime struct {
	t time.Time
}

func (f *flexibleTime) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		return nil
	}
	secs, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil // unparseable timestamps fall back to the store clock
	}
	f.t = time.Unix(secs, 0).UTC()
	return nil
}

// ImportPayload replays one payload document.
func (im *Importer) ImportPayload(ctx context.Context, data []byte) (Stats, error) {
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Stats{}, fmt.Errorf("parse payload: %w", err)
	}

	var st Stats
	for _, entry := range p.MetaData.Entry {
		for _, change := range entry.Changes {
			if err := im.importValue(ctx, change.Value, &st); err != nil {
				return st, err
			}
		}
	}
	return st, nil
}

func (im *Importer) importValue(ctx context.Context, v changeValue, st *Stats) error {
	var contactName, contactWaID string
	if len(v.Contacts) > 0 {
		contactName = v.Contacts[0].Profile.Name
		contactWaID = v.Contacts[0].WaID
	}

	for _, msg := range v.Messages {
		waID := contactWaID
		if waID == "" {
			waID = msg.From
		}
		if !chat.ValidIdent(waID) {
			im.log.Warn("import.skip.message", "reason", "invalid wa_id", "wa_id", waID)
			st.Skipped++
			continue
		}

		raw, _ := json.Marshal(msg)
		stored, err := im.store.Append(ctx, chat.AppendInput{
			WaID: waID,
			From: msg.From,
			To:   contactWaID,
			Body: msg.Text.Body,
			Kind: chat.NormalizeKind(msg.Type),
			// Messages enter at sent; status records from the same run
			// advance them through the normal lattice.
			Status:      chat.StatusSent,
			ContactName: contactName,
			Origin:      raw,
			Now:         msg.Timestamp.t,
		})
		if err != nil {
			return fmt.Errorf("append message: %w", err)
		}
		if msg.ID != "" {
			im.byExternalID[msg.ID] = stored.ID
		}
		st.Messages++
	}

	for _, stat := range v.Statuses {
		// A status that references a message from this run advances it
		// through the normal lattice (regressions are stored no-ops).
		ref := stat.MetaMsgID
		if ref == "" {
			ref = stat.ID
		}
		if storedID, ok := im.byExternalID[ref]; ok {
			next := chat.NormalizeStatus(stat.Status)
			if next != chat.StatusUnknown {
				if _, changed, err := im.store.UpdateStatus(ctx, storedID, next); err != nil {
					return fmt.Errorf("update status: %w", err)
				} else if changed {
					st.StatusAdvances++
				}
				continue
			}
		}

		// Otherwise keep the original system's behavior: the status becomes
		// its own status-update record, preserved for audit.
		waID := stat.RecipientID
		if !chat.ValidIdent(waID) {
			im.log.Warn("import.skip.status", "reason", "invalid recipient", "recipient", waID)
			st.Skipped++
			continue
		}

		raw, _ := json.Marshal(stat)
		if _, err := im.store.Append(ctx, chat.AppendInput{
			WaID:   waID,
			To:     stat.RecipientID,
			Kind:   chat.KindStatus,
			Status: chat.NormalizeStatus(stat.Status),
			Origin: raw,
			Now:    stat.Timestamp.t,
		}); err != nil {
			return fmt.Errorf("append status record: %w", err)
		}
		st.StatusRecords++
	}

	return nil
}
