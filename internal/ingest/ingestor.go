package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"

	imapclient "newsletter-indexer/internal/imap"
	"newsletter-indexer/internal/logging"
	"newsletter-indexer/internal/mailparse"
	"newsletter-indexer/internal/models"
	"newsletter-indexer/internal/segmenter"
	"newsletter-indexer/internal/store"

	"github.com/sirupsen/logrus"
)

var (
	// ErrConnect aborts a run when the mail server cannot be reached
	ErrConnect = errors.New("mail server connection failed")
	// ErrAuth aborts a run when the credentials are rejected
	ErrAuth = errors.New("mail authentication failed")
	// ErrLabelNotFound aborts a run when the label cannot be selected
	ErrLabelNotFound = errors.New("label not found")
	// ErrListing aborts a run when the label contents cannot be listed
	ErrListing = errors.New("listing messages failed")
)

// sampleSize bounds the ids logged at debug level
const sampleSize = 3

type Ingestor struct {
	cfg       models.EmailConfig
	newClient func() imapclient.Client
}

// NewIngestor creates an Ingestor that opens one session per FetchNew call using newClient
func NewIngestor(cfg models.EmailConfig, newClient func() imapclient.Client) *Ingestor {
	return &Ingestor{
		cfg:       cfg,
		newClient: newClient,
	}
}

// FetchNew connects to the mail server, lists every message in label and returns the
// parsed messages whose id is not in existing. Session setup failures are fatal; a
// message that cannot be fetched or parsed is logged and skipped.
func (in *Ingestor) FetchNew(ctx context.Context, label string, existing map[string]struct{}) ([]*models.Email, error) {
	client := in.newClient()

	if err := client.Connect(in.cfg.Imap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnect, err)
	}
	defer func(client imapclient.Client) {
		if err := client.Close(); err != nil {
			logging.Log.WithError(err).Warn("Error closing mail session")
		}
	}(client)

	if err := client.Login(in.cfg.Login, in.cfg.Password); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuth, err)
	}

	// Gmail nested labels are addressed by their full path
	if err := client.SelectMailbox(label); err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrLabelNotFound, label, err)
	}

	uids, err := client.ListUIDs()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrListing, err)
	}

	rawIDs, err := client.FetchMessageIDs(uids)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrListing, err)
	}

	candidates := selectCandidates(uids, rawIDs, existing)
	logging.Log.Infof("Found %d new emails out of %d total emails in label '%s'", len(candidates), len(uids), label)
	logSample(existing, candidates)

	emails := make([]*models.Email, 0, len(candidates))
	for i, c := range candidates {
		if err := ctx.Err(); err != nil {
			return emails, err
		}

		email, err := in.processMessage(client, c)
		if err != nil {
			logging.Log.WithField("email_id", c.id).WithError(err).Errorf("Skipping email UID %d", c.uid)
			continue
		}
		logging.Log.WithField("trace_id", email.TraceID).Debugf("Fetched new email %d/%d with ID: %s", i+1, len(candidates), email.ID)
		emails = append(emails, email)
	}

	return emails, nil
}

type candidate struct {
	uid uint32
	id  string
}

// selectCandidates keeps the first UID of every normalized id that is not yet recorded
func selectCandidates(uids []uint32, rawIDs map[uint32]string, existing map[string]struct{}) []candidate {
	seen := make(map[string]struct{}, len(rawIDs))
	candidates := make([]candidate, 0)

	sorted := append([]uint32(nil), uids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	for _, uid := range sorted {
		raw, ok := rawIDs[uid]
		id := store.NormalizeID(raw)
		if !ok || id == "" {
			logging.Log.Warnf("No Message-ID found for UID %d, skipping", uid)
			continue
		}
		if _, ok := existing[id]; ok {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		candidates = append(candidates, candidate{uid: uid, id: id})
	}
	return candidates
}

// processMessage fetches and parses one message, then flags it as seen
func (in *Ingestor) processMessage(client imapclient.Client, c candidate) (*models.Email, error) {
	msg, err := client.FetchMessage(c.uid)
	if err != nil {
		return nil, err
	}

	email, err := mailparse.Parse(msg)
	if err != nil {
		return nil, fmt.Errorf("error parsing email: %w", err)
	}

	// The listing id is the dedup key, whatever the fetched header says
	email.ID = c.id
	email.UID = c.uid

	if err := client.MarkSeen(c.uid); err != nil {
		logging.Log.WithField("trace_id", email.TraceID).Errorf("Error marking message UID %d as seen: %v", c.uid, err)
	}

	return email, nil
}

// Segment fills the sections of every email that has a body. It returns how many
// emails were segmented and how many were skipped for lacking a body.
func Segment(emails []*models.Email) (processed, skipped int) {
	for _, email := range emails {
		if email.Body == "" {
			logging.Log.WithField("trace_id", email.TraceID).Infof("Email %s has no plain-text body, nothing to segment", email.ID)
			email.Sections = []string{}
			skipped++
			continue
		}
		email.Sections = segmenter.Parse(email.Body)
		processed++
	}
	return processed, skipped
}

func logSample(existing map[string]struct{}, candidates []candidate) {
	if !logging.Log.IsLevelEnabled(logrus.DebugLevel) {
		return
	}

	existingSample := make([]string, 0, sampleSize)
	for id := range existing {
		if len(existingSample) == sampleSize {
			break
		}
		existingSample = append(existingSample, id)
	}

	newSample := make([]string, 0, sampleSize)
	for _, c := range candidates {
		if len(newSample) == sampleSize {
			break
		}
		newSample = append(newSample, c.id)
	}

	logging.Log.Debugf("Sample existing IDs: %v", existingSample)
	logging.Log.Debugf("Sample new email IDs: %v", newSample)
}
