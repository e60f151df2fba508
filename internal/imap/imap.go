package imap

import (
	"github.com/emersion/go-imap"
)

// Client is the mail session used by the ingestor. UIDs are stable for the selected mailbox.
type Client interface {
	Connect(server string) error
	Login(user, password string) error
	SelectMailbox(name string) error
	ListUIDs() ([]uint32, error)
	FetchMessageIDs(uids []uint32) (map[uint32]string, error)
	FetchMessage(uid uint32) (*imap.Message, error)
	MarkSeen(uid uint32) error
	Close() error
}
