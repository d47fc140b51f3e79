package granite

import (
	"os"

	"github.com/pkg/errors"

	"github.com/jomo/granite/buffer"
	"github.com/jomo/granite/catalog"
	"github.com/jomo/granite/concurrency"
	"github.com/jomo/granite/config"
	"github.com/jomo/granite/index"
	"github.com/jomo/granite/logger"
	"github.com/jomo/granite/recovery"
	"github.com/jomo/granite/storage/disk"
)

// Open assembles the storage engine from an ini config file; missing
// files fall back to defaults.
func Open(configPath string) (*DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	return OpenWith(cfg)
}

func OpenWith(cfg *config.Config) (*DB, error) {
	logger.SetLevel(cfg.LogLevel)

	file, err := os.OpenFile(cfg.DataFile, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "opening db file %s", cfg.DataFile)
	}

	// page 0 holds the index directory; reserve it before any allocation
	info, err := file.Stat()
	if err != nil {
		return nil, errors.Wrap(err, "stat db file")
	}
	if info.Size() < disk.PAGE_SIZE {
		if err := os.Truncate(file.Name(), disk.PAGE_SIZE); err != nil {
			return nil, errors.Wrap(err, "reserving header page")
		}
	}

	diskManager, err := disk.NewManager(file)
	if err != nil {
		return nil, err
	}

	logManager := recovery.NewLogManager()
	replacer := buffer.NewLrukReplacer(cfg.PoolSize, cfg.ReplacerK)
	bpm := buffer.NewBufferpoolManager(cfg.PoolSize, replacer, disk.NewScheduler(diskManager), logManager)
	lockManager := concurrency.NewLockManager(cfg.DeadlockInterval)

	return &DB{
		cfg:         cfg,
		file:        file,
		bpm:         bpm,
		logManager:  logManager,
		lockManager: lockManager,
		txnManager:  concurrency.NewTransactionManager(lockManager),
		catalog:     catalog.NewStaticCatalog(),
	}, nil
}

// OpenIndex opens (or creates) a named B+ tree index in db and registers
// it with the catalog.
func OpenIndex[K any, V any](db *DB, name string, cmp index.Comparator[K]) (*index.BplusTree[K, V], error) {
	tree, err := index.NewBplusTree[K, V](name, db.bpm, cmp,
		int32(db.cfg.LeafMaxSize), int32(db.cfg.InternalMaxSize))
	if err != nil {
		return nil, err
	}

	db.catalog.CreateIndex(name, "", nil, tree)
	return tree, nil
}

func (db *DB) Begin(isolation concurrency.IsolationLevel) *concurrency.Transaction {
	return db.txnManager.Begin(isolation)
}

func (db *DB) Commit(txn *concurrency.Transaction) {
	db.txnManager.Commit(txn)
}

func (db *DB) Abort(txn *concurrency.Transaction) {
	db.txnManager.Abort(txn)
}

func (db *DB) BufferPool() *buffer.BufferpoolManager {
	return db.bpm
}

func (db *DB) LockManager() *concurrency.LockManager {
	return db.lockManager
}

func (db *DB) Catalog() *catalog.StaticCatalog {
	return db.catalog
}

func (db *DB) Close() error {
	db.bpm.FlushAllPages()
	db.logManager.Flush()
	db.lockManager.Close()
	return db.file.Close()
}

type DB struct {
	cfg         *config.Config
	file        *os.File
	bpm         *buffer.BufferpoolManager
	logManager  *recovery.LogManager
	lockManager *concurrency.LockManager
	txnManager  *concurrency.TransactionManager
	catalog     *catalog.StaticCatalog
}
