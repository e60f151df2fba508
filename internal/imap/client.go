package imap

import (
	"errors"
	"fmt"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

var errNotConnected = errors.New("not connected")

type StandardClient struct {
	client  *client.Client
	timeout time.Duration
}

// NewStandardClient creates a new StandardClient with a default timeout of 30 seconds for IMAP operations
func NewStandardClient() *StandardClient {
	return &StandardClient{
		timeout: 30 * time.Second,
	}
}

// Connect establishes a secure connection to the IMAP server using TLS. It returns an error if the connection fails.
func (c *StandardClient) Connect(server string) error {
	cl, err := client.DialTLS(server, nil)
	if err != nil {
		return fmt.Errorf("IMAP connection error: %w", err)
	}
	cl.Timeout = c.timeout
	c.client = cl
	return nil
}

// Login authenticates the user with the IMAP server using the provided username and password.
func (c *StandardClient) Login(user, password string) error {
	if c.client == nil {
		return errNotConnected
	}
	return c.client.Login(user, password)
}

// SelectMailbox selects the named mailbox or Gmail label read-write so messages can be flagged as seen.
func (c *StandardClient) SelectMailbox(name string) error {
	if c.client == nil {
		return errNotConnected
	}
	_, err := c.client.Select(name, false)
	return err
}

// ListUIDs returns the UID of every message in the selected mailbox, read or not.
func (c *StandardClient) ListUIDs() ([]uint32, error) {
	if c.client == nil {
		return nil, errNotConnected
	}

	uids, err := c.client.UidSearch(imap.NewSearchCriteria())
	if err != nil {
		return nil, fmt.Errorf("error listing messages: %w", err)
	}
	return uids, nil
}

// FetchMessageIDs resolves UIDs to raw Message-ID header values through the envelope.
// Messages without a Message-ID are absent from the result.
func (c *StandardClient) FetchMessageIDs(uids []uint32) (map[uint32]string, error) {
	if c.client == nil {
		return nil, errNotConnected
	}

	ids := make(map[uint32]string, len(uids))
	if len(uids) == 0 {
		return ids, nil
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)

	messages := make(chan *imap.Message, 16)
	done := make(chan error, 1)

	go func() {
		done <- c.client.UidFetch(seqSet, []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid}, messages)
	}()

	for m := range messages {
		if m.Envelope == nil || m.Envelope.MessageId == "" {
			continue
		}
		ids[m.Uid] = m.Envelope.MessageId
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("error fetching envelopes: %w", err)
	}
	return ids, nil
}

// FetchMessage retrieves the full message for a UID without setting \Seen.
func (c *StandardClient) FetchMessage(uid uint32) (*imap.Message, error) {
	if c.client == nil {
		return nil, errNotConnected
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{section.FetchItem(), imap.FetchInternalDate, imap.FetchUid}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)

	go func() {
		done <- c.client.UidFetch(seqSet, items, messages)
	}()

	var msg *imap.Message
	for m := range messages {
		msg = m
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("error fetching message UID %d: %w", uid, err)
	}

	if msg == nil {
		return nil, fmt.Errorf("no message retrieved for UID %d", uid)
	}

	return msg, nil
}

// MarkSeen adds the \Seen flag. Re-flagging a seen message is a no-op on the server.
func (c *StandardClient) MarkSeen(uid uint32) error {
	if c.client == nil {
		return errNotConnected
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	item := imap.FormatFlagsOp(imap.AddFlags, true)
	flags := []interface{}{imap.SeenFlag}

	return c.client.UidStore(seqSet, item, flags, nil)
}

// Close logs out from the IMAP server and closes the connection. If there is no active connection, it simply returns nil.
func (c *StandardClient) Close() error {
	if c.client == nil {
		return nil
	}
	err := c.client.Logout()
	c.client = nil
	return err
}
