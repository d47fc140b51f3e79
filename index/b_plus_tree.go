package index

import (
	"sync"

	"github.com/jomo/granite/buffer"
	"github.com/jomo/granite/logger"
	"github.com/jomo/granite/storage/disk"
	"github.com/jomo/granite/util"
)

// NewBplusTree opens (or registers) the named index. The root page id
// lives in the header page and survives restarts.
func NewBplusTree[K any, V any](name string, bpm *buffer.BufferpoolManager, cmp Comparator[K], leafMaxSize, internalMaxSize int32) (*BplusTree[K, V], error) {
	guard, err := bpm.WritePage(HEADER_PAGE_ID)
	if err != nil {
		return nil, err
	}
	defer guard.Drop()

	header := newHeaderView(guard.GetDataMut())
	idx := header.find(name)
	if idx < 0 {
		if idx, err = header.append(name, disk.INVALID_PAGE_ID); err != nil {
			return nil, err
		}
	}

	return &BplusTree[K, V]{
		bpm:             bpm,
		indexName:       name,
		cmp:             cmp,
		leafMaxSize:     leafMaxSize,
		internalMaxSize: internalMaxSize,
		rootPageId:      header.rootPageId(idx),
	}, nil
}

// GetValue is a point lookup using shared latch crabbing: each child is
// latched before every ancestor latch is dropped.
func (b *BplusTree[K, V]) GetValue(key K) (V, error) {
	var zero V

	b.rootMu.RLock()
	if b.rootPageId == disk.INVALID_PAGE_ID {
		b.rootMu.RUnlock()
		return zero, util.NewKeyNotFoundError(key)
	}

	page, err := b.bpm.FetchPage(b.rootPageId)
	if err != nil {
		b.rootMu.RUnlock()
		return zero, err
	}
	page.RLatch()
	b.rootMu.RUnlock()

	for {
		probe, err := b.probe(page)
		if err != nil {
			b.releaseRead(page)
			return zero, err
		}

		if probe.PageType == LEAF_PAGE {
			leaf, err := b.asLeaf(page)
			if err != nil {
				b.releaseRead(page)
				return zero, err
			}

			val, ok := leaf.lookUp(key, b.cmp)
			b.releaseRead(page)
			if !ok {
				return zero, util.NewKeyNotFoundError(key)
			}
			return val, nil
		}

		node, err := b.asInternal(page)
		if err != nil {
			b.releaseRead(page)
			return zero, err
		}

		child, err := b.bpm.FetchPage(node.lookUp(key, b.cmp))
		if err != nil {
			b.releaseRead(page)
			return zero, err
		}
		child.RLatch()
		b.releaseRead(page)
		page = child
	}
}

// Insert adds a unique key. Returns false, with the tree unchanged, when
// the key is already present.
func (b *BplusTree[K, V]) Insert(key K, value V) (bool, error) {
	b.rootMu.Lock()

	if b.rootPageId == disk.INVALID_PAGE_ID {
		defer b.rootMu.Unlock()
		return b.startNewTree(key, value)
	}

	ctx := &opContext{rootLocked: true}
	if err := b.descend(ctx, key, opInsert); err != nil {
		b.unlockAndUnpin(ctx, false)
		return false, err
	}

	page := ctx.pages[len(ctx.pages)-1]
	leaf, err := b.asLeaf(page)
	if err != nil {
		b.unlockAndUnpin(ctx, false)
		return false, err
	}

	if !leaf.insert(key, value, b.cmp) {
		b.unlockAndUnpin(ctx, false)
		return false, nil
	}

	if leaf.Size < leaf.MaxSize {
		err := b.writeNode(page, leaf)
		b.unlockAndUnpin(ctx, true)
		return err == nil, err
	}

	err = b.splitLeaf(ctx, page, leaf)
	b.unlockAndUnpin(ctx, true)
	return err == nil, err
}

// Remove deletes a key, rebalancing underflowing pages by merge or
// borrow. Removing an absent key is a no-op.
func (b *BplusTree[K, V]) Remove(key K) error {
	b.rootMu.Lock()

	if b.rootPageId == disk.INVALID_PAGE_ID {
		b.rootMu.Unlock()
		return nil
	}

	ctx := &opContext{rootLocked: true}
	if err := b.descend(ctx, key, opRemove); err != nil {
		b.unlockAndUnpin(ctx, false)
		return err
	}

	page := ctx.pages[len(ctx.pages)-1]
	leaf, err := b.asLeaf(page)
	if err != nil {
		b.unlockAndUnpin(ctx, false)
		return err
	}

	if !leaf.remove(key, b.cmp) {
		b.unlockAndUnpin(ctx, false)
		return nil
	}

	if leaf.Parent == disk.INVALID_PAGE_ID {
		if leaf.Size == 0 {
			ctx.pendingDelete = append(ctx.pendingDelete, leaf.PageId)
			err := b.setRootPageId(disk.INVALID_PAGE_ID)
			b.unlockAndUnpin(ctx, true)
			return err
		}

		err := b.writeNode(page, leaf)
		b.unlockAndUnpin(ctx, true)
		return err
	}

	if leaf.Size >= leaf.minSize() {
		err := b.writeNode(page, leaf)
		b.unlockAndUnpin(ctx, true)
		return err
	}

	err = b.rebalanceLeaf(ctx, page, leaf)
	b.unlockAndUnpin(ctx, true)
	return err
}

func (b *BplusTree[K, V]) startNewTree(key K, value V) (bool, error) {
	page, err := b.bpm.NewPage()
	if err != nil {
		return false, err
	}
	page.WLatch()

	leaf := &leafPage[K, V]{}
	leaf.init(page.PageId(), disk.INVALID_PAGE_ID, b.leafMaxSize)
	leaf.insert(key, value, b.cmp)

	err = b.writeNode(page, leaf)
	page.WUnlatch()
	b.bpm.UnpinPage(page.PageId(), true)
	if err != nil {
		return false, err
	}

	return true, b.setRootPageId(leaf.PageId)
}

// descend walks from the root to the target leaf with exclusive latch
// crabbing: ancestors are released as soon as the newly latched page is
// safe for the operation. The tree latch stands in as the root's parent.
func (b *BplusTree[K, V]) descend(ctx *opContext, key K, mode opMode) error {
	page, err := b.bpm.FetchPage(b.rootPageId)
	if err != nil {
		return err
	}
	page.WLatch()
	ctx.pages = append(ctx.pages, page)

	for {
		probe, err := b.probe(page)
		if err != nil {
			return err
		}

		if b.isSafe(probe, mode) {
			b.releaseAncestors(ctx)
		}

		if probe.PageType == LEAF_PAGE {
			return nil
		}

		node, err := b.asInternal(page)
		if err != nil {
			return err
		}

		child, err := b.bpm.FetchPage(node.lookUp(key, b.cmp))
		if err != nil {
			return err
		}
		child.WLatch()
		ctx.pages = append(ctx.pages, child)
		page = child
	}
}

// A safe page cannot propagate the operation to its parent.
func (b *BplusTree[K, V]) isSafe(p *nodeProbe, mode opMode) bool {
	isRoot := p.Parent == disk.INVALID_PAGE_ID

	if mode == opInsert {
		if p.PageType == LEAF_PAGE {
			return p.Size+1 < p.MaxSize
		}
		return p.Size < p.MaxSize
	}

	if isRoot {
		// a root leaf emptied by the removal clears the root page id, so
		// the tree latch must still be held then
		if p.PageType == LEAF_PAGE {
			return p.Size > 1
		}
		return p.Size > 2
	}

	return p.Size > (p.MaxSize+1)/2
}

func (b *BplusTree[K, V]) splitLeaf(ctx *opContext, page *buffer.Page, leaf *leafPage[K, V]) error {
	newPage, err := b.bpm.NewPage()
	if err != nil {
		return err
	}
	newPage.WLatch()

	sibling := &leafPage[K, V]{}
	sibling.init(newPage.PageId(), leaf.Parent, b.leafMaxSize)

	mid := int((leaf.MaxSize + 1) / 2)
	sibling.Keys = append(sibling.Keys, leaf.Keys[mid:]...)
	sibling.Values = append(sibling.Values, leaf.Values[mid:]...)
	sibling.Size = leaf.Size - int32(mid)

	leaf.Keys = leaf.Keys[:mid]
	leaf.Values = leaf.Values[:mid]
	leaf.Size = int32(mid)

	sibling.Next = leaf.Next
	leaf.Next = sibling.PageId

	logger.WithFields(map[string]any{"index": b.indexName, "pageId": leaf.PageId, "newPageId": sibling.PageId}).
		Debug("splitting leaf")

	err = b.insertInParent(ctx, page, leaf, sibling.keyAt(0), newPage, sibling)
	newPage.WUnlatch()
	b.bpm.UnpinPage(sibling.PageId, true)
	return err
}

func (b *BplusTree[K, V]) splitInternal(ctx *opContext, page *buffer.Page, node *internalPage[K]) error {
	newPage, err := b.bpm.NewPage()
	if err != nil {
		return err
	}
	newPage.WLatch()

	sibling := &internalPage[K]{}
	sibling.init(newPage.PageId(), node.Parent, b.internalMaxSize)

	n := node.getSize()
	mid := (n + 1) / 2
	promoted := node.keyAt(mid)

	var zero K
	sibling.Values = append(sibling.Values, node.Values[mid:]...)
	sibling.Keys = append(sibling.Keys, zero)
	sibling.Keys = append(sibling.Keys, node.Keys[mid+1:]...)
	sibling.Size = int32(n - mid)

	node.Keys = node.Keys[:mid]
	node.Values = node.Values[:mid]
	node.Size = int32(mid)

	for _, childId := range sibling.Values {
		if err := b.adoptChild(ctx, childId, sibling.PageId); err != nil {
			newPage.WUnlatch()
			b.bpm.UnpinPage(sibling.PageId, true)
			return err
		}
	}

	err = b.insertInParent(ctx, page, node, promoted, newPage, sibling)
	newPage.WUnlatch()
	b.bpm.UnpinPage(sibling.PageId, true)
	return err
}

// insertInParent wires a freshly split-off sibling into the tree,
// growing a new root when the split reached the top. Both halves are
// persisted here since their parent pointers may change.
func (b *BplusTree[K, V]) insertInParent(ctx *opContext, leftPage *buffer.Page, left treeNode, key K, rightPage *buffer.Page, right treeNode) error {
	if left.parentId() == disk.INVALID_PAGE_ID {
		rootPage, err := b.bpm.NewPage()
		if err != nil {
			return err
		}
		rootPage.WLatch()

		root := &internalPage[K]{}
		root.init(rootPage.PageId(), disk.INVALID_PAGE_ID, b.internalMaxSize)
		var zero K
		root.Keys = []K{zero, key}
		root.Values = []int64{left.id(), right.id()}
		root.Size = 2

		left.setParent(root.PageId)
		right.setParent(root.PageId)

		err = b.writeNode(rootPage, root)
		rootPage.WUnlatch()
		b.bpm.UnpinPage(root.PageId, true)
		if err != nil {
			return err
		}
		if err := b.writeNode(leftPage, left); err != nil {
			return err
		}
		if err := b.writeNode(rightPage, right); err != nil {
			return err
		}

		logger.WithFields(map[string]any{"index": b.indexName, "rootPageId": root.PageId}).
			Debug("grew new root")
		return b.setRootPageId(root.PageId)
	}

	parentPage := ctx.parentOf(leftPage)
	parent, err := b.asInternal(parentPage)
	if err != nil {
		return err
	}

	right.setParent(parent.PageId)
	if err := b.writeNode(leftPage, left); err != nil {
		return err
	}
	if err := b.writeNode(rightPage, right); err != nil {
		return err
	}

	j := parent.childIndex(left.id())
	parent.insertAt(j+1, key, right.id())

	if parent.Size <= parent.MaxSize {
		return b.writeNode(parentPage, parent)
	}

	if err := b.writeNode(parentPage, parent); err != nil {
		return err
	}

	// the new right node is latched by this operation but is not on the
	// descent path; list it so adoptChild rewrites it in place
	ctx.pages = append(ctx.pages, rightPage)
	err = b.splitInternal(ctx, parentPage, parent)
	ctx.pages = ctx.pages[:len(ctx.pages)-1]
	return err
}

func (b *BplusTree[K, V]) rebalanceLeaf(ctx *opContext, page *buffer.Page, leaf *leafPage[K, V]) error {
	parentPage := ctx.parentOf(page)
	parent, err := b.asInternal(parentPage)
	if err != nil {
		return err
	}

	j := parent.childIndex(leaf.PageId)
	leftIsSibling := j > 0

	sibId := parent.valueAt(j + 1)
	if leftIsSibling {
		sibId = parent.valueAt(j - 1)
	}

	sibPage, err := b.bpm.FetchPage(sibId)
	if err != nil {
		return err
	}
	sibPage.WLatch()

	sibling, err := b.asLeaf(sibPage)
	if err != nil {
		b.releaseWrite(sibPage, false)
		return err
	}

	leftP, left, rightP, right, rIdx := page, leaf, sibPage, sibling, j+1
	if leftIsSibling {
		leftP, left, rightP, right, rIdx = sibPage, sibling, page, leaf, j
	}

	if left.Size+right.Size <= left.MaxSize-1 {
		// fold the right leaf into the left and unlink it from the chain
		left.Keys = append(left.Keys, right.Keys...)
		left.Values = append(left.Values, right.Values...)
		left.Size += right.Size
		left.Next = right.Next

		if err := b.writeNode(leftP, left); err != nil {
			b.releaseWrite(sibPage, true)
			return err
		}

		ctx.pendingDelete = append(ctx.pendingDelete, right.PageId)
		b.releaseWrite(sibPage, leftP == sibPage)

		logger.WithFields(map[string]any{"index": b.indexName, "left": left.PageId, "right": right.PageId}).
			Debug("merged leaves")
		return b.deleteFromInternal(ctx, len(ctx.pages)-2, rIdx)
	}

	// borrow one entry across the separator
	if leftIsSibling {
		last := left.getSize() - 1
		donatedKey, donatedVal := left.keyAt(last), left.valueAt(last)
		left.Keys = left.Keys[:last]
		left.Values = left.Values[:last]
		left.Size -= 1

		right.insert(donatedKey, donatedVal, b.cmp)
		parent.Keys[rIdx] = donatedKey
	} else {
		donatedKey, donatedVal := right.keyAt(0), right.valueAt(0)
		right.remove(donatedKey, b.cmp)

		left.insert(donatedKey, donatedVal, b.cmp)
		parent.Keys[rIdx] = right.keyAt(0)
	}

	if err := b.writeNode(leftP, left); err != nil {
		b.releaseWrite(sibPage, true)
		return err
	}
	if err := b.writeNode(rightP, right); err != nil {
		b.releaseWrite(sibPage, true)
		return err
	}
	err = b.writeNode(parentPage, parent)
	b.releaseWrite(sibPage, true)
	return err
}

// deleteFromInternal removes the child at childIdx (and its separator)
// from the internal page at depth i, then rebalances upward as needed.
func (b *BplusTree[K, V]) deleteFromInternal(ctx *opContext, i int, childIdx int) error {
	page := ctx.pages[i]
	node, err := b.asInternal(page)
	if err != nil {
		return err
	}

	node.removeAt(childIdx)

	if node.Parent == disk.INVALID_PAGE_ID {
		if node.Size == 1 {
			// an internal root with a single child hands the root to it
			childId := node.valueAt(0)
			if err := b.adoptChild(ctx, childId, disk.INVALID_PAGE_ID); err != nil {
				return err
			}

			ctx.pendingDelete = append(ctx.pendingDelete, node.PageId)
			logger.WithFields(map[string]any{"index": b.indexName, "rootPageId": childId}).
				Debug("collapsed root")
			return b.setRootPageId(childId)
		}
		return b.writeNode(page, node)
	}

	if node.Size >= node.minSize() {
		return b.writeNode(page, node)
	}

	return b.rebalanceInternal(ctx, i, page, node)
}

func (b *BplusTree[K, V]) rebalanceInternal(ctx *opContext, i int, page *buffer.Page, node *internalPage[K]) error {
	parentPage := ctx.pages[i-1]
	parent, err := b.asInternal(parentPage)
	if err != nil {
		return err
	}

	j := parent.childIndex(node.PageId)
	leftIsSibling := j > 0

	sibId := parent.valueAt(j + 1)
	if leftIsSibling {
		sibId = parent.valueAt(j - 1)
	}

	sibPage, err := b.bpm.FetchPage(sibId)
	if err != nil {
		return err
	}
	sibPage.WLatch()

	sibling, err := b.asInternal(sibPage)
	if err != nil {
		b.releaseWrite(sibPage, false)
		return err
	}

	leftP, left, rightP, right, rIdx := page, node, sibPage, sibling, j+1
	if leftIsSibling {
		leftP, left, rightP, right, rIdx = sibPage, sibling, page, node, j
	}

	if left.Size+right.Size <= left.MaxSize {
		// the separator descends alongside the right node's first child
		left.Keys = append(left.Keys, parent.keyAt(rIdx))
		left.Keys = append(left.Keys, right.Keys[1:]...)
		left.Values = append(left.Values, right.Values...)
		left.Size += right.Size

		for _, childId := range right.Values {
			if err := b.adoptChild(ctx, childId, left.PageId); err != nil {
				b.releaseWrite(sibPage, true)
				return err
			}
		}

		if err := b.writeNode(leftP, left); err != nil {
			b.releaseWrite(sibPage, true)
			return err
		}

		ctx.pendingDelete = append(ctx.pendingDelete, right.PageId)
		b.releaseWrite(sibPage, leftP == sibPage)
		return b.deleteFromInternal(ctx, i-1, rIdx)
	}

	if leftIsSibling {
		last := left.getSize() - 1
		donatedKey, donatedChild := left.keyAt(last), left.valueAt(last)
		left.Keys = left.Keys[:last]
		left.Values = left.Values[:last]
		left.Size -= 1

		right.Keys = append(right.Keys[:1], append([]K{parent.keyAt(rIdx)}, right.Keys[1:]...)...)
		right.Values = append([]int64{donatedChild}, right.Values...)
		right.Size += 1
		parent.Keys[rIdx] = donatedKey

		if err := b.adoptChild(ctx, donatedChild, right.PageId); err != nil {
			b.releaseWrite(sibPage, true)
			return err
		}
	} else {
		donatedChild := right.valueAt(0)
		left.Keys = append(left.Keys, parent.keyAt(rIdx))
		left.Values = append(left.Values, donatedChild)
		left.Size += 1

		parent.Keys[rIdx] = right.keyAt(1)
		right.Values = right.Values[1:]
		right.Keys = append(right.Keys[:1], right.Keys[2:]...)
		right.Size -= 1

		if err := b.adoptChild(ctx, donatedChild, left.PageId); err != nil {
			b.releaseWrite(sibPage, true)
			return err
		}
	}

	if err := b.writeNode(leftP, left); err != nil {
		b.releaseWrite(sibPage, true)
		return err
	}
	if err := b.writeNode(rightP, right); err != nil {
		b.releaseWrite(sibPage, true)
		return err
	}
	err = b.writeNode(parentPage, parent)
	b.releaseWrite(sibPage, true)
	return err
}

// adoptChild rewrites a child's parent pointer. The caller holds the
// child's current parent exclusively, so latching the child stays
// top-down. A child already in the operation's page set is mutated in
// place: it is latched by this very operation.
func (b *BplusTree[K, V]) adoptChild(ctx *opContext, childId, parentId int64) error {
	for _, p := range ctx.pages {
		if p.PageId() == childId {
			return b.rewriteParent(p, parentId)
		}
	}

	page, err := b.bpm.FetchPage(childId)
	if err != nil {
		return err
	}
	page.WLatch()

	err = b.rewriteParent(page, parentId)
	b.releaseWrite(page, err == nil)
	return err
}

func (b *BplusTree[K, V]) rewriteParent(page *buffer.Page, parentId int64) error {
	probe, err := b.probe(page)
	if err != nil {
		return err
	}

	if probe.PageType == LEAF_PAGE {
		leaf, err := b.asLeaf(page)
		if err != nil {
			return err
		}
		leaf.Parent = parentId
		return b.writeNode(page, leaf)
	}

	node, err := b.asInternal(page)
	if err != nil {
		return err
	}
	node.Parent = parentId
	return b.writeNode(page, node)
}

// setRootPageId persists the root under the index's header record. The
// caller holds the tree latch exclusively.
func (b *BplusTree[K, V]) setRootPageId(pageId int64) error {
	guard, err := b.bpm.WritePage(HEADER_PAGE_ID)
	if err != nil {
		return err
	}
	defer guard.Drop()

	header := newHeaderView(guard.GetDataMut())
	i := header.find(b.indexName)
	if i < 0 {
		return &util.GraniteError{Message: "header record missing for index " + b.indexName}
	}

	header.setRootPageId(i, pageId)
	b.rootPageId = pageId
	return nil
}

func (b *BplusTree[K, V]) isEmpty() bool {
	b.rootMu.RLock()
	defer b.rootMu.RUnlock()

	return b.rootPageId == disk.INVALID_PAGE_ID
}

func (b *BplusTree[K, V]) probe(page *buffer.Page) (*nodeProbe, error) {
	p, err := util.ToStruct[nodeProbe](page.Data())
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (b *BplusTree[K, V]) asLeaf(page *buffer.Page) (*leafPage[K, V], error) {
	p, err := util.ToStruct[leafPage[K, V]](page.Data())
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (b *BplusTree[K, V]) asInternal(page *buffer.Page) (*internalPage[K], error) {
	p, err := util.ToStruct[internalPage[K]](page.Data())
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (b *BplusTree[K, V]) writeNode(page *buffer.Page, node treeNode) error {
	data, err := node.encode()
	if err != nil {
		return err
	}

	copy(page.Data(), data)
	return nil
}

func (b *BplusTree[K, V]) releaseRead(page *buffer.Page) {
	pageId := page.PageId()
	page.RUnlatch()
	b.bpm.UnpinPage(pageId, false)
}

func (b *BplusTree[K, V]) releaseWrite(page *buffer.Page, dirty bool) {
	pageId := page.PageId()
	page.WUnlatch()
	b.bpm.UnpinPage(pageId, dirty)
}

// unlockAndUnpin releases the operation's whole page set in one batched
// step, then performs any page deletions deferred until the pins were
// gone.
func (b *BplusTree[K, V]) unlockAndUnpin(ctx *opContext, dirty bool) {
	for i := len(ctx.pages) - 1; i >= 0; i-- {
		b.releaseWrite(ctx.pages[i], dirty)
	}
	ctx.pages = nil

	if ctx.rootLocked {
		b.rootMu.Unlock()
		ctx.rootLocked = false
	}

	for _, pageId := range ctx.pendingDelete {
		b.bpm.DeletePage(pageId)
	}
	ctx.pendingDelete = nil
}

// releaseAncestors drops every latched page above the most recent one;
// the descent relies on the newest page being safe.
func (b *BplusTree[K, V]) releaseAncestors(ctx *opContext) {
	keep := ctx.pages[len(ctx.pages)-1]
	for i := len(ctx.pages) - 2; i >= 0; i-- {
		b.releaseWrite(ctx.pages[i], false)
	}
	ctx.pages = []*buffer.Page{keep}

	if ctx.rootLocked {
		b.rootMu.Unlock()
		ctx.rootLocked = false
	}
}

func (ctx *opContext) parentOf(page *buffer.Page) *buffer.Page {
	for i, p := range ctx.pages {
		if p == page && i > 0 {
			return ctx.pages[i-1]
		}
	}

	return nil
}

type opMode int

const (
	opInsert opMode = iota
	opRemove
)

// nodeProbe decodes the header fields shared by both page kinds.
type nodeProbe struct {
	PageType PAGE_TYPE
	Size     int32
	MaxSize  int32
	Parent   int64
}

type treeNode interface {
	id() int64
	parentId() int64
	setParent(pageId int64)
	encode() ([]byte, error)
}

type opContext struct {
	pages         []*buffer.Page
	rootLocked    bool
	pendingDelete []int64
}

type BplusTree[K any, V any] struct {
	bpm             *buffer.BufferpoolManager
	indexName       string
	cmp             Comparator[K]
	leafMaxSize     int32
	internalMaxSize int32

	// rootMu is the tree latch: held shared to read the root page id,
	// exclusively while an operation may move the root. It acts as the
	// root's parent during crabbing.
	rootMu     sync.RWMutex
	rootPageId int64
}
