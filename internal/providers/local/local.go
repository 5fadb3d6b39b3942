// Package local implements provider.Provider against the host filesystem,
// adapted from services/go-storage/internal/store/local.go's root-jailed
// path resolution and temp-file-plus-rename write: the same safety
// properties, generalized behind the uniform Provider interface.
package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
	"golang.org/x/text/unicode/norm"

	"github.com/tonimelisma/cloudfs/internal/clouderr"
	"github.com/tonimelisma/cloudfs/internal/cloudcore"
	"github.com/tonimelisma/cloudfs/internal/provider"
)

// Name is the registry key and the Provider.Name() value.
const Name = "local"

// NameWinRT is the registry key the original implementation reserves for
// a WinRT-backed local filesystem provider (StorageFolder/StorageFile
// instead of direct os calls). This module has no WinRT runtime to target,
// so NameWinRT is registered as a plain alias onto the same Backend: both
// names expose the identical os-package-backed filesystem provider.
const NameWinRT = "localwinrt"

func init() {
	provider.Register(Name, New)
	provider.Register(NameWinRT, newWinRT)
}

// Backend roots every Item.ID at a configured directory, exactly like
// store.Local's root field, with every path resolution going through
// abs() to keep callers from escaping the root.
type Backend struct {
	name       string
	root       string
	permission provider.Permission
	pool       *cloudcore.ThreadPool
	loop       *cloudcore.EventLoop
}

// New builds a Backend rooted at data.Hints[provider.HintTemporaryDirectory],
// creating the directory if it does not exist.
func New(data provider.InitData) (provider.Provider, error) {
	return newBackend(Name, data)
}

// newWinRT is NameWinRT's factory: the identical Backend, reporting its own
// registered name back through Provider.Name().
func newWinRT(data provider.InitData) (provider.Provider, error) {
	return newBackend(NameWinRT, data)
}

func newBackend(name string, data provider.InitData) (provider.Provider, error) {
	root := data.Hints.Get(provider.HintTemporaryDirectory)
	if root == "" {
		return nil, clouderr.Failure("local: temporary_directory hint is required")
	}

	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, clouderr.Wrap(fmt.Errorf("local: creating root %q: %w", root, err))
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, clouderr.Wrap(fmt.Errorf("local: resolving root: %w", err))
	}

	return &Backend{
		name:       name,
		root:       absRoot,
		permission: data.Permission,
		pool:       data.Pool,
		loop:       data.Loop,
	}, nil
}

func (b *Backend) Name() string                    { return b.name }
func (b *Backend) Endpoint() string                { return b.root }
func (b *Backend) RootDirectory() provider.Item     { return provider.Item{ID: "", Type: provider.TypeDirectory} }
func (b *Backend) AuthorizeLibraryURL() string      { return "" }
func (b *Backend) Token() provider.Token            { return provider.Token{} }
func (b *Backend) Hints() provider.Hints            { return provider.Hints{provider.HintTemporaryDirectory: b.root} }
func (b *Backend) Permission() provider.Permission  { return b.permission }

func (b *Backend) ExchangeCode(string) *cloudcore.Promise[provider.Token] {
	p, _, reject := cloudcore.NewPromise[provider.Token](b.loop)
	reject(clouderr.Unimplemented("exchange_code"))

	return p
}

// abs resolves a caller-supplied ID to a concrete filesystem path, refusing
// anything that would escape root (store.Local's abs, generalized from
// slash-style logical paths to the same convention for Item.ID).
func (b *Backend) abs(id string) (string, error) {
	joined := filepath.Join(b.root, filepath.Clean(filepath.FromSlash(id)))

	rel, err := filepath.Rel(b.root, joined)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", clouderr.NotFound(fmt.Sprintf("local: path %q escapes storage root", id))
	}

	return joined, nil
}

func itemID(parentID, name string) string {
	if parentID == "" || parentID == "." {
		return name
	}

	return parentID + "/" + name
}

// parentOf returns id's parent ID, collapsing filepath.Dir's "." for
// top-level items to the empty-string root ID.
func parentOf(id string) string {
	dir := filepath.Dir(id)
	if dir == "." {
		return ""
	}

	return dir
}

func (b *Backend) statItem(id string, info os.FileInfo) provider.Item {
	it := provider.Item{
		ID: id,
		// macOS's HFS+/APFS report decomposed (NFD) filenames; normalize to
		// NFC so names round-trip identically against providers that compare
		// them byte-for-byte (the same mismatch rclone's local backend works
		// around).
		Filename:  norm.NFC.String(info.Name()),
		Timestamp: info.ModTime(),
		Type:      provider.TypeFile,
	}

	if info.IsDir() {
		it.Type = provider.TypeDirectory
		it.Size = provider.SizeUnknown
	} else {
		it.Size = info.Size()
	}

	return it
}

func (b *Backend) ListDirectoryPage(item provider.Item, token string) *cloudcore.Promise[provider.ListPage] {
	return cloudcore.Async(b.pool, b.loop, func(context.Context) (provider.ListPage, error) {
		if token != "" {
			return provider.ListPage{}, nil
		}

		abs, err := b.abs(item.ID)
		if err != nil {
			return provider.ListPage{}, err
		}

		entries, err := os.ReadDir(abs)
		if err != nil {
			return provider.ListPage{}, clouderr.Wrap(err)
		}

		page := provider.ListPage{Items: make([]provider.Item, 0, len(entries))}

		for _, entry := range entries {
			info, err := entry.Info()
			if err != nil {
				continue
			}

			page.Items = append(page.Items, b.statItem(itemID(item.ID, entry.Name()), info))
		}

		return page, nil
	})
}

// ListDirectory returns the whole listing in one page: the host filesystem
// has no pagination protocol to honor.
func (b *Backend) ListDirectory(item provider.Item) *cloudcore.Promise[[]provider.Item] {
	return cloudcore.Async(b.pool, b.loop, func(ctx context.Context) ([]provider.Item, error) {
		page, err := b.ListDirectoryPage(item, "").Wait()
		if err != nil {
			return nil, err
		}

		return page.Items, nil
	})
}

func (b *Backend) GetItemData(id string) *cloudcore.Promise[provider.Item] {
	return cloudcore.Async(b.pool, b.loop, func(context.Context) (provider.Item, error) {
		abs, err := b.abs(id)
		if err != nil {
			return provider.Item{}, err
		}

		info, err := os.Stat(abs)
		if err != nil {
			return provider.Item{}, clouderr.NotFound(err.Error())
		}

		return b.statItem(id, info), nil
	})
}

func (b *Backend) GetItem(path string) *cloudcore.Promise[provider.Item] {
	return b.GetItemData(strings.TrimPrefix(path, "/"))
}

func (b *Backend) GetFileURL(provider.Item) *cloudcore.Promise[string] {
	p, _, reject := cloudcore.NewPromise[string](b.loop)
	reject(clouderr.Unimplemented("get_file_url"))

	return p
}

// DownloadFile streams item's content, honoring rng via os.File.Seek the
// same way store.Local.Read hands back a seekable *os.File.
func (b *Backend) DownloadFile(item provider.Item, rng provider.Range, cb provider.DownloadCallback) *cloudcore.Promise[struct{}] {
	return cloudcore.Async(b.pool, b.loop, func(context.Context) (struct{}, error) {
		abs, err := b.abs(item.ID)
		if err != nil {
			cb.Done(err)

			return struct{}{}, err
		}

		f, err := os.Open(abs)
		if err != nil {
			derr := clouderr.NotFound(err.Error())
			cb.Done(derr)

			return struct{}{}, derr
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			derr := clouderr.Wrap(err)
			cb.Done(derr)

			return struct{}{}, derr
		}

		clamped := rng.Clamp(info.Size())
		if clamped.Start > 0 {
			if _, err := f.Seek(clamped.Start, io.SeekStart); err != nil {
				derr := clouderr.Wrap(err)
				cb.Done(derr)

				return struct{}{}, derr
			}
		}

		var reader io.Reader = f
		if !rng.IsFull() || clamped.Start > 0 {
			reader = io.LimitReader(f, clamped.Size)
		}

		buf := make([]byte, 64*1024)
		var total int64

		for {
			n, rerr := reader.Read(buf)
			if n > 0 {
				cb.ReceivedData(buf[:n])
				total += int64(n)
				cb.Progress(info.Size(), total)
			}

			if rerr == io.EOF {
				break
			}

			if rerr != nil {
				derr := clouderr.Wrap(rerr)
				cb.Done(derr)

				return struct{}{}, derr
			}
		}

		cb.Done(nil)

		return struct{}{}, nil
	})
}

// UploadFile streams cb's bytes into a temp file and renames it into place,
// following store.Local.Write's temp-file-plus-atomic-rename pattern.
func (b *Backend) UploadFile(parent provider.Item, filename string, cb provider.UploadCallback) *cloudcore.Promise[provider.Item] {
	return cloudcore.Async(b.pool, b.loop, func(context.Context) (provider.Item, error) {
		if b.permission == provider.ReadOnly {
			return provider.Item{}, clouderr.ServiceUnavailable("local: provider opened read-only")
		}

		id := itemID(parent.ID, filename)

		dest, err := b.abs(id)
		if err != nil {
			return provider.Item{}, err
		}

		if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
			return provider.Item{}, clouderr.Wrap(err)
		}

		tmp := dest + ".tmp"

		f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
		if err != nil {
			return provider.Item{}, clouderr.Wrap(err)
		}

		size := cb.Size()
		buf := make([]byte, size)

		if _, err := cb.PutData(buf, int(size), 0); err != nil {
			f.Close()
			os.Remove(tmp) //nolint:errcheck

			return provider.Item{}, clouderr.Wrap(err)
		}

		if _, err := f.Write(buf); err != nil {
			f.Close()
			os.Remove(tmp) //nolint:errcheck

			return provider.Item{}, clouderr.Wrap(err)
		}

		if err := f.Close(); err != nil {
			os.Remove(tmp) //nolint:errcheck

			return provider.Item{}, clouderr.Wrap(err)
		}

		if err := os.Rename(tmp, dest); err != nil {
			os.Remove(tmp) //nolint:errcheck

			return provider.Item{}, clouderr.Wrap(err)
		}

		info, err := os.Stat(dest)
		if err != nil {
			return provider.Item{}, clouderr.Wrap(err)
		}

		return b.statItem(id, info), nil
	})
}

func (b *Backend) CreateDirectory(parent provider.Item, name string) *cloudcore.Promise[provider.Item] {
	return cloudcore.Async(b.pool, b.loop, func(context.Context) (provider.Item, error) {
		if b.permission == provider.ReadOnly {
			return provider.Item{}, clouderr.ServiceUnavailable("local: provider opened read-only")
		}

		id := itemID(parent.ID, name)

		abs, err := b.abs(id)
		if err != nil {
			return provider.Item{}, err
		}

		if err := os.Mkdir(abs, 0o750); err != nil {
			return provider.Item{}, clouderr.Wrap(err)
		}

		info, err := os.Stat(abs)
		if err != nil {
			return provider.Item{}, clouderr.Wrap(err)
		}

		return b.statItem(id, info), nil
	})
}

func (b *Backend) DeleteItem(item provider.Item) *cloudcore.Promise[struct{}] {
	return cloudcore.Async(b.pool, b.loop, func(context.Context) (struct{}, error) {
		if b.permission == provider.ReadOnly {
			return struct{}{}, clouderr.ServiceUnavailable("local: provider opened read-only")
		}

		abs, err := b.abs(item.ID)
		if err != nil {
			return struct{}{}, err
		}

		if err := os.RemoveAll(abs); err != nil && !os.IsNotExist(err) {
			return struct{}{}, clouderr.Wrap(err)
		}

		return struct{}{}, nil
	})
}

func (b *Backend) moveOrRename(srcID, newParentID, newName string) (provider.Item, error) {
	if b.permission == provider.ReadOnly {
		return provider.Item{}, clouderr.ServiceUnavailable("local: provider opened read-only")
	}

	absSrc, err := b.abs(srcID)
	if err != nil {
		return provider.Item{}, err
	}

	dstID := itemID(newParentID, newName)

	absDst, err := b.abs(dstID)
	if err != nil {
		return provider.Item{}, err
	}

	if err := os.MkdirAll(filepath.Dir(absDst), 0o750); err != nil {
		return provider.Item{}, clouderr.Wrap(err)
	}

	if err := os.Rename(absSrc, absDst); err != nil {
		return provider.Item{}, clouderr.Wrap(err)
	}

	info, err := os.Stat(absDst)
	if err != nil {
		return provider.Item{}, clouderr.Wrap(err)
	}

	return b.statItem(dstID, info), nil
}

func (b *Backend) MoveItem(item provider.Item, newParent provider.Item) *cloudcore.Promise[provider.Item] {
	return cloudcore.Async(b.pool, b.loop, func(context.Context) (provider.Item, error) {
		return b.moveOrRename(item.ID, newParent.ID, filepath.Base(item.ID))
	})
}

func (b *Backend) RenameItem(item provider.Item, newName string) *cloudcore.Promise[provider.Item] {
	return cloudcore.Async(b.pool, b.loop, func(context.Context) (provider.Item, error) {
		return b.moveOrRename(item.ID, parentOf(item.ID), newName)
	})
}

func (b *Backend) GetThumbnail(provider.Item) *cloudcore.Promise[[]byte] {
	p, _, reject := cloudcore.NewPromise[[]byte](b.loop)
	reject(clouderr.Unimplemented("get_thumbnail"))

	return p
}

// GeneralData reports the filesystem containing root via statfs, the
// quota-free host-filesystem analogue of a cloud account's used/total.
func (b *Backend) GeneralData() *cloudcore.Promise[provider.GeneralData] {
	return cloudcore.Async(b.pool, b.loop, func(context.Context) (provider.GeneralData, error) {
		var stat unix.Statfs_t
		if err := unix.Statfs(b.root, &stat); err != nil {
			return provider.GeneralData{}, clouderr.Wrap(err)
		}

		blockSize := uint64(stat.Bsize) //nolint:unconvert // Bsize's width varies by GOARCH
		total := blockSize * stat.Blocks
		free := blockSize * stat.Bfree

		return provider.GeneralData{
			Username:   os.Getenv("USER"),
			SpaceUsed:  int64(total - free), //nolint:gosec // disk sizes fit in int64
			SpaceTotal: int64(total),        //nolint:gosec // disk sizes fit in int64
		}, nil
	})
}
