package audit

import (
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/jinzhu/gorm"
	"github.com/provideplatform/issuance/common"
)

// Trail is a durable, append-only merkle commitment over terminal step
// results, backed by the audit_hashes table. It gives operators a
// tamper-evident record to reconcile against the ledger; there is no
// automatic compensation.
type Trail struct {
	mutex sync.Mutex
	tree  *merkleTree
}

var (
	trailMutex  sync.Mutex
	sharedTrail *Trail
)

// RequireTrail loads the shared audit trail, replaying persisted hashes into
// the in-memory tree on first use
func RequireTrail(db *gorm.DB) (*Trail, error) {
	trailMutex.Lock()
	defer trailMutex.Unlock()

	if sharedTrail != nil {
		return sharedTrail, nil
	}

	tree := &merkleTree{}

	rows, err := db.Raw("SELECT hash FROM audit_hashes ORDER BY id").Rows()
	if err != nil {
		return nil, fmt.Errorf("failed to load audit trail; %s", err.Error())
	}
	defer rows.Close()

	for rows.Next() {
		var hash string
		err = rows.Scan(&hash)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit trail hashes; %s", err.Error())
		}
		leaf, err := hex.DecodeString(hash)
		if err != nil {
			return nil, fmt.Errorf("failed to decode audit trail hash; %s", err.Error())
		}
		tree.rawInsert(leaf)
	}

	sharedTrail = &Trail{tree: tree}
	common.Log.Debugf("loaded audit trail with %d leaves", tree.length())
	return sharedTrail, nil
}

// RecordStepResult appends the digest of a settled step to the trail
func RecordStepResult(db *gorm.DB, operationID string, stepNo int, txHash, result string) error {
	trail, err := RequireTrail(db)
	if err != nil {
		return err
	}

	trail.mutex.Lock()
	defer trail.mutex.Unlock()

	_, leaf := trail.tree.insert([]byte(fmt.Sprintf("%s:%d:%s:%s", operationID, stepNo, txHash, result)))

	tx := db.Exec("INSERT INTO audit_hashes (hash) VALUES (?)", leaf)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return fmt.Errorf("failed to persist audit trail hash: %s", leaf)
	}

	return nil
}

// Root returns the current commitment root and leaf count
func (t *Trail) Root() (string, int) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.tree.root(), t.tree.length()
}
