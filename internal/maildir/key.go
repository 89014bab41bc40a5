package maildir

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"sync/atomic"
	"time"
)

var deliveryCounter uint64

var hostname = func() string {
	h, err := os.Hostname()
	if err != nil {
		return "localhost"
	}
	return h
}()

// newDeliveryKey generates a unique Maildir base filename following the
// left.middle.right convention recommended by the format: a timestamp,
// a per-process/per-delivery discriminator, and the host, so two
// concurrent deliveries on the same or different hosts never collide
// (teacher's generateMaildirKey in internal/storage/maildir/maildir.go
// uses the same timestamp+random shape; this adds the host component
// and a monotonic counter per the upstream format's own recommendation).
func newDeliveryKey() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	n := atomic.AddUint64(&deliveryCounter, 1)
	return fmt.Sprintf("%d.M%dP%d%s.%s", time.Now().Unix(), n, os.Getpid(), hex.EncodeToString(buf), hostname), nil
}
