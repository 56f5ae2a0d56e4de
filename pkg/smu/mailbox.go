package smu

import (
	"fmt"
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// smuPollInterval separates two reads of a response register. The SMU raises
// no interrupt on completion, so callers spin.
const smuPollInterval = 10 * time.Microsecond

// retryBudget bounds the number of response register reads of one command.
// Both polling phases draw from the same budget.
type retryBudget struct {
	remaining uint32
}

func newRetryBudget(attempts uint32) *retryBudget {
	return &retryBudget{remaining: attempts}
}

// consumeAttempt takes one attempt, reporting false once none are left.
func (b *retryBudget) consumeAttempt() bool {
	if b.remaining == 0 {
		return false
	}
	b.remaining--
	return true
}

// mailboxEngine runs the request/response handshake. Its lock spans the
// whole handshake and is distinct from the SMN register lock.
type mailboxEngine struct {
	mu           sync.Mutex
	smn          *smnAccessor
	attempts     uint32
	pollInterval time.Duration
	clock        clock.Clock
	metrics      *metrics
}

// execute sends op to the mailbox at addrs. On success args holds the
// response words; on failure it is left untouched.
func (e *mailboxEngine) execute(mb Mailbox, addrs MailboxAddresses, op uint32, args *Args) error {
	if addrs.IsZero() {
		return fmt.Errorf("%w: %s mailbox not present", StatusUnsupported, mb)
	}

	start := e.clock.Now()
	err := e.handshake(mb, addrs, op, args)
	e.metrics.observeCommand(mb, StatusOf(err), e.clock.Since(start))
	return err
}

func (e *mailboxEngine) handshake(mb Mailbox, addrs MailboxAddresses, op uint32, args *Args) error {
	log.V(1).Info("smu service request", "mailbox", mb.String(), "op", fmt.Sprintf("0x%X", op), "args", args.String())

	e.mu.Lock()
	defer e.mu.Unlock()

	budget := newRetryBudget(e.attempts)

	// A zero response means firmware is still busy with an earlier command.
	rsp, err := e.waitForResponse(addrs.Rsp, budget)
	if err != nil {
		log.Error(err, "failed to probe smu response register", "mailbox", mb.String())
		return err
	}
	if rsp == 0 {
		log.V(1).Info("smu service request timed out waiting for mailbox", "mailbox", mb.String(), "op", fmt.Sprintf("0x%X", op))
		return fmt.Errorf("%w: %s mailbox busy", StatusTimeout, mb)
	}

	if err := e.smn.write(addrs.Rsp, 0); err != nil {
		return err
	}
	for i, v := range args {
		if err := e.smn.write(addrs.Args+uint32(i)*4, v); err != nil {
			return err
		}
	}
	if err := e.smn.write(addrs.Cmd, op); err != nil {
		return err
	}

	rsp, err = e.waitForResponse(addrs.Rsp, budget)
	if err != nil {
		log.Error(err, "failed to probe smu response register", "mailbox", mb.String())
		return err
	}
	if rsp == 0 {
		log.V(1).Info("smu service request timed out", "mailbox", mb.String(), "op", fmt.Sprintf("0x%X", op), "attempts", e.attempts)
		return fmt.Errorf("%w: %s op 0x%X after %d attempts", StatusTimeout, mb, op, e.attempts)
	}
	if Status(rsp) != StatusOK {
		log.V(1).Info("smu service request failed", "mailbox", mb.String(), "op", fmt.Sprintf("0x%X", op), "response", fmt.Sprintf("0x%X", rsp))
		return Status(rsp)
	}

	var out Args
	for i := range out {
		v, err := e.smn.read(addrs.Args + uint32(i)*4)
		if err != nil {
			log.Error(err, "failed to fetch smu argument", "index", i)
			return err
		}
		out[i] = v
	}
	*args = out

	log.V(1).Info("smu service response", "mailbox", mb.String(), "op", fmt.Sprintf("0x%X", op), "args", args.String())
	return nil
}

// waitForResponse polls the response register until it is non-zero or the
// budget is spent, returning zero in the latter case. A failed read ends
// the wait at once.
func (e *mailboxEngine) waitForResponse(address uint32, budget *retryBudget) (uint32, error) {
	for budget.consumeAttempt() {
		v, err := e.smn.read(address)
		if err != nil {
			return 0, err
		}
		if v != 0 {
			return v, nil
		}
		if e.pollInterval > 0 {
			e.clock.Sleep(e.pollInterval)
		}
	}
	return 0, nil
}
