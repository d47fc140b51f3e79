package catalog

import (
	"sync"

	"github.com/jomo/granite/util"
)

// The storage core consumes the catalog through this surface; the
// executor layer injects a concrete implementation at construction.
type Catalog interface {
	GetTable(oid uint32) (*TableInfo, error)
	GetIndex(oid uint32) (*IndexInfo, error)
	GetTableIndexes(tableName string) []*IndexInfo
}

// TableHeap is the slotted-page heap the executors scan; only its
// identity matters to the core.
type TableHeap interface {
	FirstPageId() int64
}

func NewStaticCatalog() *StaticCatalog {
	return &StaticCatalog{
		tables:       map[uint32]*TableInfo{},
		indexes:      map[uint32]*IndexInfo{},
		tableIndexes: map[string][]*IndexInfo{},
	}
}

func (c *StaticCatalog) CreateTable(name string, schema Schema, heap TableHeap) *TableInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextOid += 1
	info := &TableInfo{Oid: c.nextOid, Name: name, Schema: schema, Heap: heap}
	c.tables[info.Oid] = info
	return info
}

func (c *StaticCatalog) CreateIndex(name, tableName string, keySchema Schema, tree any) *IndexInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextOid += 1
	info := &IndexInfo{Oid: c.nextOid, Name: name, TableName: tableName, KeySchema: keySchema, Tree: tree}
	c.indexes[info.Oid] = info
	c.tableIndexes[tableName] = append(c.tableIndexes[tableName], info)
	return info
}

func (c *StaticCatalog) GetTable(oid uint32) (*TableInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	info, ok := c.tables[oid]
	if !ok {
		return nil, util.NewKeyNotFoundError(oid)
	}
	return info, nil
}

func (c *StaticCatalog) GetIndex(oid uint32) (*IndexInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	info, ok := c.indexes[oid]
	if !ok {
		return nil, util.NewKeyNotFoundError(oid)
	}
	return info, nil
}

func (c *StaticCatalog) GetTableIndexes(tableName string) []*IndexInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.tableIndexes[tableName]
}

type ColumnType int

const (
	INTEGER ColumnType = iota
	BIGINT
	VARCHAR
)

type Column struct {
	Name string
	Type ColumnType
}

type Schema []Column

type TableInfo struct {
	Oid    uint32
	Name   string
	Schema Schema
	Heap   TableHeap
}

// IndexInfo carries the tree as an opaque handle: trees are generic
// over their key type and the catalog is not.
type IndexInfo struct {
	Oid       uint32
	Name      string
	TableName string
	KeySchema Schema
	Tree      any
}

type StaticCatalog struct {
	mu           sync.Mutex
	nextOid      uint32
	tables       map[uint32]*TableInfo
	indexes      map[uint32]*IndexInfo
	tableIndexes map[string][]*IndexInfo
}
