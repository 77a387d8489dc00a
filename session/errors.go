package session

import (
	"errors"
	"fmt"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/iykyk-syn/sectionclient/wire"
)

var (
	// ErrNotBootstrapped is returned by operations issued before bootstrap completed.
	ErrNotBootstrapped = errors.New("session is not bootstrapped")
	// ErrSessionClosed is returned by operations issued after the listener has stopped.
	ErrSessionClosed = errors.New("session closed")
	// ErrBootstrap is returned when no contact could serve the client's section.
	ErrBootstrap = errors.New("bootstrapping to the network")
	// ErrElderConnection is returned when connecting to an elder exhausted its retries.
	ErrElderConnection = errors.New("connecting to elder")
	// ErrInsufficientElderConnections is returned when fewer than the minimum elders are reachable.
	ErrInsufficientElderConnections = errors.New("could not connect to sufficient elders")
	// ErrElderQuery is returned when querying an elder exhausted its retries.
	ErrElderQuery = errors.New("querying elder")
	// ErrSendingQuery marks a failed attempt to send a query.
	ErrSendingQuery = errors.New("sending query")
	// ErrReceivingQuery marks a failed attempt to receive a query response.
	ErrReceivingQuery = errors.New("receiving query response")
	// ErrNoResponse is returned when no response could be elected.
	ErrNoResponse = errors.New("failed to obtain a response from the network")
	// ErrNoTransferValidationListener is returned when removing an absent transfer listener.
	ErrNoTransferValidationListener = errors.New("no transfer validation listener")
	// ErrUnexpectedMessageOnJoin is returned when a contact answers GetSection with anything
	// but section info.
	ErrUnexpectedMessageOnJoin = errors.New("unexpected message type received while expecting list of elders to join")
	// ErrTooManyRedirects is returned when bootstrap exceeded its redirect budget.
	ErrTooManyRedirects = errors.New("too many bootstrap redirects")
	// ErrDuplicateMessageID is returned when registering a correlation that is still pending.
	ErrDuplicateMessageID = errors.New("message id is already pending")
)

// CmdError is an elder's rejection of a command, delivered to transfer listeners and
// to the notification channel.
type CmdError struct {
	Elder         peer.ID
	CorrelationID wire.MessageID
	Reason        string
}

func (e *CmdError) Error() string {
	return fmt.Sprintf("cmd error from elder %s for %s: %s", e.Elder.ShortString(), e.CorrelationID, e.Reason)
}
