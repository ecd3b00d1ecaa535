// Package txn implements the runtime's atomic file transaction engine (spec
// component C2): stage a set of file operations into a temp area, commit
// them to the real filesystem as one all-or-nothing unit, and roll back the
// subset already applied if any single operation fails partway through.
//
// Staging and commit follow the same "write to a temp location, mkdir -p
// parents, plain os.WriteFile" conventions the reference tool implementations
// (internal/tool/write.go, internal/tool/edit.go) use for ordinary file
// writes; this package adds the backup/rollback bookkeeping those single-file
// tools don't need.
package txn

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/opencode-ai/agentcore/internal/logging"
	"github.com/opencode-ai/agentcore/internal/orcherr"
)

// OperationType identifies a TransactionOperation's kind.
type OperationType string

const (
	OpCreate OperationType = "create"
	OpUpdate OperationType = "update"
	OpDelete OperationType = "delete"
	OpMove   OperationType = "move"
)

// Operation mirrors spec.md §3's TransactionOperation. backupPath is
// populated during staging, not at add-time, per spec.
type Operation struct {
	Type       OperationType
	TargetPath string
	Content    []byte
	SourcePath string

	backupPath  string
	stagingPath string
}

// Checkpoint is a named snapshot of a transaction's pending operation list.
type Checkpoint struct {
	ID         string
	Operations []Operation
}

// CommitResult is what Commit always returns; the engine never throws past
// commit per spec §4.2/§7.
type CommitResult struct {
	Success        bool
	CommittedFiles []string
	Err            error
	RolledBack     bool
}

// Config configures a Transaction.
type Config struct {
	// BaseDir resolves relative operation paths.
	BaseDir string
	// AppDataDir names the hidden directory under BaseDir that holds the
	// transaction's temp area (<BaseDir>/<AppDataDir>/transactions/<id>/).
	// Defaults to ".orchestrator".
	AppDataDir string
	Logger     *logging.Logger
}

// Transaction stages and commits a set of file operations atomically.
type Transaction struct {
	id      string
	baseDir string
	tempDir string
	log     *logging.Logger

	mu          sync.Mutex
	operations  []Operation
	checkpoints []Checkpoint
	committed   bool
	// commitStarted is set by the first Commit call, whatever its outcome.
	commitStarted bool
}

// New constructs a Transaction. The temp directory is created lazily, at
// the start of Commit, not at construction time.
func New(cfg Config) *Transaction {
	appData := cfg.AppDataDir
	if appData == "" {
		appData = ".orchestrator"
	}
	id := ulid.Make().String()
	return &Transaction{
		id:      id,
		baseDir: cfg.BaseDir,
		tempDir: filepath.Join(cfg.BaseDir, appData, "transactions", id),
		log:     cfg.Logger,
	}
}

// ID returns the transaction's identifier.
func (tx *Transaction) ID() string { return tx.id }

func (tx *Transaction) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(tx.baseDir, path)
}

func (tx *Transaction) addOperation(op Operation) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.committed {
		return fmt.Errorf("txn: cannot add operation: transaction %s already committed", tx.id)
	}
	op.TargetPath = tx.resolve(op.TargetPath)
	if op.SourcePath != "" {
		op.SourcePath = tx.resolve(op.SourcePath)
	}
	tx.operations = append(tx.operations, op)
	return nil
}

// AddCreate queues a new-file creation.
func (tx *Transaction) AddCreate(path string, content []byte) error {
	return tx.addOperation(Operation{Type: OpCreate, TargetPath: path, Content: content})
}

// AddUpdate queues an overwrite of an existing file.
func (tx *Transaction) AddUpdate(path string, content []byte) error {
	return tx.addOperation(Operation{Type: OpUpdate, TargetPath: path, Content: content})
}

// AddDelete queues a file removal.
func (tx *Transaction) AddDelete(path string) error {
	return tx.addOperation(Operation{Type: OpDelete, TargetPath: path})
}

// AddMove queues a file relocation.
func (tx *Transaction) AddMove(source, target string) error {
	return tx.addOperation(Operation{Type: OpMove, TargetPath: target, SourcePath: source})
}

// CreateCheckpoint snapshots the current pending operation list and returns
// its id.
func (tx *Transaction) CreateCheckpoint() string {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	snapshot := make([]Operation, len(tx.operations))
	copy(snapshot, tx.operations)
	id := ulid.Make().String()
	tx.checkpoints = append(tx.checkpoints, Checkpoint{ID: id, Operations: snapshot})
	return id
}

// RestoreCheckpoint resets the pending operation list to the named
// checkpoint's snapshot. Fails if the transaction is already committed.
func (tx *Transaction) RestoreCheckpoint(id string) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.committed {
		return fmt.Errorf("txn: cannot restore checkpoint: transaction %s already committed", tx.id)
	}
	for _, cp := range tx.checkpoints {
		if cp.ID == id {
			restored := make([]Operation, len(cp.Operations))
			copy(restored, cp.Operations)
			tx.operations = restored
			return nil
		}
	}
	return fmt.Errorf("txn: checkpoint %q not found", id)
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// stage runs the staging protocol from spec §4.2 against tx.tempDir,
// populating backupPath/stagingPath on each operation. It mutates tx.operations
// in place (by index) so Commit can read the populated fields back.
func (tx *Transaction) stage() error {
	if err := os.MkdirAll(tx.tempDir, 0o755); err != nil {
		return err
	}

	for i := range tx.operations {
		op := &tx.operations[i]
		switch op.Type {
		case OpCreate, OpUpdate:
			op.stagingPath = filepath.Join(tx.tempDir, fmt.Sprintf("stage-%d", i))
			if err := os.MkdirAll(filepath.Dir(op.stagingPath), 0o755); err != nil {
				return orcherr.NewFileOperationError(string(op.Type), op.TargetPath, err)
			}
			if err := os.WriteFile(op.stagingPath, op.Content, 0o644); err != nil {
				return orcherr.NewFileOperationError(string(op.Type), op.TargetPath, err)
			}
			if op.Type == OpUpdate && fileExists(op.TargetPath) {
				op.backupPath = filepath.Join(tx.tempDir, fmt.Sprintf("backup-%d", i))
				if err := copyFile(op.TargetPath, op.backupPath); err != nil {
					return orcherr.NewFileOperationError(string(op.Type), op.TargetPath, err)
				}
			}
		case OpDelete:
			if fileExists(op.TargetPath) {
				op.backupPath = filepath.Join(tx.tempDir, fmt.Sprintf("backup-%d", i))
				if err := copyFile(op.TargetPath, op.backupPath); err != nil {
					return orcherr.NewFileOperationError(string(op.Type), op.TargetPath, err)
				}
			}
		case OpMove:
			if fileExists(op.SourcePath) {
				op.backupPath = filepath.Join(tx.tempDir, fmt.Sprintf("backup-%d", i))
				if err := copyFile(op.SourcePath, op.backupPath); err != nil {
					return orcherr.NewFileOperationError(string(op.Type), op.SourcePath, err)
				}
			}
		default:
			return orcherr.NewFileOperationError(string(op.Type), op.TargetPath, fmt.Errorf("unknown operation type"))
		}
	}
	return nil
}

func (tx *Transaction) apply(op Operation) error {
	switch op.Type {
	case OpCreate, OpUpdate:
		if err := os.MkdirAll(filepath.Dir(op.TargetPath), 0o755); err != nil {
			return orcherr.NewFileOperationError(string(op.Type), op.TargetPath, err)
		}
		if err := os.WriteFile(op.TargetPath, op.Content, 0o644); err != nil {
			return orcherr.NewFileOperationError(string(op.Type), op.TargetPath, err)
		}
	case OpDelete:
		if err := os.Remove(op.TargetPath); err != nil && !os.IsNotExist(err) {
			return orcherr.NewFileOperationError(string(op.Type), op.TargetPath, err)
		}
	case OpMove:
		if err := os.MkdirAll(filepath.Dir(op.TargetPath), 0o755); err != nil {
			return orcherr.NewFileOperationError(string(op.Type), op.TargetPath, err)
		}
		if err := copyFile(op.SourcePath, op.TargetPath); err != nil {
			return orcherr.NewFileOperationError(string(op.Type), op.SourcePath, err)
		}
		if err := os.Remove(op.SourcePath); err != nil && !os.IsNotExist(err) {
			return orcherr.NewFileOperationError(string(op.Type), op.SourcePath, err)
		}
	}
	return nil
}

// rollback undoes the operations in applied, in reverse order, per spec
// §4.2's rollback protocol. Errors are logged, never propagated.
func (tx *Transaction) rollback(applied []Operation) {
	for i := len(applied) - 1; i >= 0; i-- {
		op := applied[i]
		var err error
		switch {
		case op.backupPath != "":
			err = copyFile(op.backupPath, targetOf(op))
		case op.Type == OpCreate:
			err = os.Remove(op.TargetPath)
		}
		if err != nil && tx.log != nil {
			tx.log.Warn("txn: rollback step failed", map[string]any{
				"transaction": tx.id,
				"operation":   string(op.Type),
				"path":        targetOf(op),
			}, map[string]any{"error": err.Error()})
		}
	}
}

func targetOf(op Operation) string {
	if op.Type == OpMove {
		return op.SourcePath
	}
	return op.TargetPath
}

// Commit runs the staging protocol, then applies every operation to the
// real filesystem in order. Commit is one-shot: every call after the first
// fails, whether or not the first call succeeded.
func (tx *Transaction) Commit(ctx context.Context) CommitResult {
	tx.mu.Lock()
	if tx.committed || tx.commitStarted {
		tx.mu.Unlock()
		return CommitResult{Success: false, Err: fmt.Errorf("txn: Commit already called on transaction %s", tx.id)}
	}
	tx.commitStarted = true
	tx.mu.Unlock()

	if err := tx.stage(); err != nil {
		_ = tx.Cleanup()
		return CommitResult{Success: false, CommittedFiles: nil, Err: err, RolledBack: false}
	}

	tx.mu.Lock()
	ops := make([]Operation, len(tx.operations))
	copy(ops, tx.operations)
	tx.mu.Unlock()

	var committed []Operation
	var committedPaths []string
	for _, op := range ops {
		if err := tx.apply(op); err != nil {
			tx.rollback(committed)
			_ = tx.Cleanup()
			return CommitResult{Success: false, CommittedFiles: nil, Err: err, RolledBack: true}
		}
		committed = append(committed, op)
		committedPaths = append(committedPaths, targetOf(op))
	}

	tx.mu.Lock()
	tx.operations = ops
	tx.committed = true
	tx.mu.Unlock()

	_ = tx.Cleanup()
	return CommitResult{Success: true, CommittedFiles: committedPaths, RolledBack: false}
}

// Cleanup removes the transaction's temp directory. Idempotent.
func (tx *Transaction) Cleanup() error {
	if tx.tempDir == "" {
		return nil
	}
	err := os.RemoveAll(tx.tempDir)
	if err != nil && tx.log != nil {
		tx.log.Warn("txn: cleanup failed", map[string]any{"transaction": tx.id}, map[string]any{"error": err.Error()})
	}
	return err
}
