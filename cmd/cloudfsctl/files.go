package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/cloudfs/internal/provider"
)

func newLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls [path]",
		Short: "List files and folders",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runLs,
	}
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <remote-path> [local-path]",
		Short: "Download a file",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runGet,
	}
}

func newPutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put <local-path> [remote-path]",
		Short: "Upload a file",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runPut,
	}
}

func newRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <path>",
		Short: "Delete a file or folder",
		Args:  cobra.ExactArgs(1),
		RunE:  runRm,
	}
}

func newMkdirCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <path>",
		Short: "Create a folder",
		Args:  cobra.ExactArgs(1),
		RunE:  runMkdir,
	}
}

func newStatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stat <path>",
		Short: "Display file or folder metadata",
		Args:  cobra.ExactArgs(1),
		RunE:  runStat,
	}
}

func newMvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mv <src-path> <dst-path>",
		Short: "Move or rename a file or folder",
		Args:  cobra.ExactArgs(2),
		RunE:  runMv,
	}
}

// cleanRemotePath strips leading/trailing slashes, returns "" for root.
func cleanRemotePath(path string) string {
	return strings.Trim(path, "/")
}

// splitParentAndName splits a remote path into parent path and name.
// For "foo/bar/baz" returns ("foo/bar", "baz"); for "baz" returns ("", "baz").
func splitParentAndName(path string) (string, string) {
	clean := cleanRemotePath(path)
	idx := strings.LastIndex(clean, "/")

	if idx < 0 {
		return "", clean
	}

	return clean[:idx], clean[idx+1:]
}

// resolveItem resolves a remote path to an Item, short-circuiting to
// backend.RootDirectory() for the root path since several backends leave
// GetItem("") unimplemented.
func resolveItem(backend provider.Provider, remotePath string) (provider.Item, error) {
	clean := cleanRemotePath(remotePath)
	if clean == "" {
		return backend.RootDirectory(), nil
	}

	return backend.GetItem(clean).Wait()
}

func runLs(cmd *cobra.Command, args []string) error {
	remotePath := ""
	if len(args) > 0 {
		remotePath = args[0]
	}

	cc := mustCLIContext(cmd.Context())

	backend, err := newProviderBackend(cc)
	if err != nil {
		return fmt.Errorf("constructing provider: %w", err)
	}

	cc.Logger.Debug("ls", "path", remotePath)

	item, err := resolveItem(backend, remotePath)
	if err != nil {
		return fmt.Errorf("resolving %q: %w", remotePath, err)
	}

	items, err := backend.ListDirectory(item).Wait()
	if err != nil {
		return fmt.Errorf("listing %q: %w", remotePath, err)
	}

	if flagJSON {
		return printItemsJSON(items)
	}

	printItemsTable(items)

	return nil
}

type lsJSONItem struct {
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	Type       string `json:"type"`
	ModifiedAt string `json:"modified_at,omitempty"`
	ID         string `json:"id"`
}

func printItemsJSON(items []provider.Item) error {
	out := make([]lsJSONItem, 0, len(items))
	for i := range items {
		j := lsJSONItem{
			Name: items[i].Filename,
			Size: items[i].Size,
			Type: items[i].Type.String(),
			ID:   items[i].ID,
		}

		if items[i].HasKnownTimestamp() {
			j.ModifiedAt = items[i].Timestamp.Format("2006-01-02T15:04:05Z")
		}

		out = append(out, j)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(out)
}

func printItemsTable(items []provider.Item) {
	sort.Slice(items, func(i, j int) bool {
		iDir := items[i].Type == provider.TypeDirectory
		jDir := items[j].Type == provider.TypeDirectory

		if iDir != jDir {
			return iDir
		}

		return items[i].Filename < items[j].Filename
	})

	headers := []string{"NAME", "SIZE", "MODIFIED"}
	rows := make([][]string, 0, len(items))

	for i := range items {
		name := items[i].Filename
		if items[i].Type == provider.TypeDirectory {
			name += "/"
		}

		rows = append(rows, []string{name, formatSize(items[i].Size), formatTime(items[i].Timestamp)})
	}

	printTable(os.Stdout, headers, rows)
}

func runStat(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	backend, err := newProviderBackend(cc)
	if err != nil {
		return fmt.Errorf("constructing provider: %w", err)
	}

	item, err := resolveItem(backend, args[0])
	if err != nil {
		return fmt.Errorf("resolving %q: %w", args[0], err)
	}

	if flagJSON {
		return printItemsJSON([]provider.Item{item})
	}

	headers := []string{"NAME", "SIZE", "TYPE", "MODIFIED", "ID"}
	rows := [][]string{{item.Filename, formatSize(item.Size), item.Type.String(), formatTime(item.Timestamp), item.ID}}
	printTable(os.Stdout, headers, rows)

	return nil
}

func runMkdir(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	backend, err := newProviderBackend(cc)
	if err != nil {
		return fmt.Errorf("constructing provider: %w", err)
	}

	parentPath, name := splitParentAndName(args[0])
	if name == "" {
		return fmt.Errorf("mkdir: empty folder name")
	}

	parent, err := resolveItem(backend, parentPath)
	if err != nil {
		return fmt.Errorf("resolving parent %q: %w", parentPath, err)
	}

	created, err := backend.CreateDirectory(parent, name).Wait()
	if err != nil {
		return fmt.Errorf("creating %q: %w", args[0], err)
	}

	statusf("created %s (%s)\n", args[0], created.ID)

	return nil
}

func runRm(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	backend, err := newProviderBackend(cc)
	if err != nil {
		return fmt.Errorf("constructing provider: %w", err)
	}

	item, err := resolveItem(backend, args[0])
	if err != nil {
		return fmt.Errorf("resolving %q: %w", args[0], err)
	}

	if _, err := backend.DeleteItem(item).Wait(); err != nil {
		return fmt.Errorf("deleting %q: %w", args[0], err)
	}

	statusf("deleted %s\n", args[0])

	return nil
}

func runMv(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	backend, err := newProviderBackend(cc)
	if err != nil {
		return fmt.Errorf("constructing provider: %w", err)
	}

	srcPath, dstPath := args[0], args[1]

	item, err := resolveItem(backend, srcPath)
	if err != nil {
		return fmt.Errorf("resolving %q: %w", srcPath, err)
	}

	srcParentPath, _ := splitParentAndName(srcPath)
	dstParentPath, dstName := splitParentAndName(dstPath)

	if srcParentPath == dstParentPath {
		if _, err := backend.RenameItem(item, dstName).Wait(); err != nil {
			return fmt.Errorf("renaming %q to %q: %w", srcPath, dstName, err)
		}

		statusf("renamed %s to %s\n", srcPath, dstName)

		return nil
	}

	newParent, err := resolveItem(backend, dstParentPath)
	if err != nil {
		return fmt.Errorf("resolving destination parent %q: %w", dstParentPath, err)
	}

	moved, err := backend.MoveItem(item, newParent).Wait()
	if err != nil {
		return fmt.Errorf("moving %q to %q: %w", srcPath, dstPath, err)
	}

	if moved.Filename != dstName && dstName != "" {
		if _, err := backend.RenameItem(moved, dstName).Wait(); err != nil {
			return fmt.Errorf("renaming moved item to %q: %w", dstName, err)
		}
	}

	statusf("moved %s to %s\n", srcPath, dstPath)

	return nil
}

// fileDownload adapts an *os.File into a provider.DownloadCallback, writing
// bytes as they arrive and reporting progress through statusf.
// ReceivedData may run on a non-event-loop goroutine while Done always runs
// on the event loop, so the shared fields are guarded by mu.
type fileDownload struct {
	f    *os.File
	done chan struct{}

	mu      sync.Mutex
	written int64
	err     error
}

func newFileDownload(f *os.File) *fileDownload {
	return &fileDownload{f: f, done: make(chan struct{})}
}

func (d *fileDownload) ReceivedData(chunk []byte) {
	n, err := d.f.Write(chunk)

	d.mu.Lock()
	d.written += int64(n)

	if err != nil && d.err == nil {
		d.err = err
	}
	d.mu.Unlock()
}

func (d *fileDownload) Progress(total, now int64) {
	if total <= 0 {
		return
	}

	if stderrIsTTY() {
		statusf("\rdownloading... %s / %s", formatSize(now), formatSize(total))
		return
	}

	statusf("downloading... %s / %s\n", formatSize(now), formatSize(total))
}

func (d *fileDownload) Done(err error) {
	d.mu.Lock()
	if err != nil && d.err == nil {
		d.err = err
	}
	d.mu.Unlock()

	close(d.done)
}

func (d *fileDownload) result() (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.written, d.err
}

func runGet(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	backend, err := newProviderBackend(cc)
	if err != nil {
		return fmt.Errorf("constructing provider: %w", err)
	}

	remotePath := args[0]

	localPath := args[0]
	if len(args) > 1 {
		localPath = args[1]
	} else {
		_, localPath = splitParentAndName(remotePath)
	}

	item, err := resolveItem(backend, remotePath)
	if err != nil {
		return fmt.Errorf("resolving %q: %w", remotePath, err)
	}

	f, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("creating %q: %w", localPath, err)
	}
	defer f.Close()

	cb := newFileDownload(f)

	if _, err := backend.DownloadFile(item, provider.Range{Size: provider.Full}, cb).Wait(); err != nil {
		return fmt.Errorf("downloading %q: %w", remotePath, err)
	}

	<-cb.done

	if !flagQuiet {
		fmt.Fprintln(os.Stderr)
	}

	written, downloadErr := cb.result()
	if downloadErr != nil {
		return fmt.Errorf("writing %q: %w", localPath, downloadErr)
	}

	statusf("downloaded %s (%s)\n", remotePath, formatSize(written))

	return nil
}

// fileUpload adapts an *os.File into a provider.UploadCallback.
type fileUpload struct {
	f    *os.File
	size int64
}

func newFileUpload(f *os.File, size int64) *fileUpload {
	return &fileUpload{f: f, size: size}
}

func (u *fileUpload) Size() int64 { return u.size }

func (u *fileUpload) PutData(buf []byte, maxlen int, offset int64) (int, error) {
	return u.f.ReadAt(buf[:maxlen], offset)
}

func runPut(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	backend, err := newProviderBackend(cc)
	if err != nil {
		return fmt.Errorf("constructing provider: %w", err)
	}

	localPath := args[0]

	remotePath := localPath
	if len(args) > 1 {
		remotePath = args[1]
	}

	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("opening %q: %w", localPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %q: %w", localPath, err)
	}

	parentPath, filename := splitParentAndName(remotePath)

	parent, err := resolveItem(backend, parentPath)
	if err != nil {
		return fmt.Errorf("resolving parent %q: %w", parentPath, err)
	}

	uploaded, err := backend.UploadFile(parent, filename, newFileUpload(f, info.Size())).Wait()
	if err != nil {
		return fmt.Errorf("uploading %q: %w", localPath, err)
	}

	statusf("uploaded %s to %s (%s)\n", localPath, remotePath, formatSize(uploaded.Size))

	return nil
}
