package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stickerpress/stickerpress/internal/archive"
	"github.com/stickerpress/stickerpress/internal/i18n"
	"github.com/stickerpress/stickerpress/internal/kv"
	"github.com/stickerpress/stickerpress/internal/session"
	"github.com/stickerpress/stickerpress/internal/transport"
	"github.com/stickerpress/stickerpress/internal/workdir"
)

// fakeTransport serves fixed bytes per reference and records outbound calls.
type fakeTransport struct {
	mu            sync.Mutex
	files         map[string][]byte // ref -> payload
	resolveErrs   map[string]error
	fetchErrs     map[string]error
	sendErr       error
	notifications []string
	sentArchives  []string
	sentFiles     []string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		files:       map[string][]byte{},
		resolveErrs: map[string]error{},
		fetchErrs:   map[string]error{},
	}
}

func (f *fakeTransport) ResolveLocator(_ context.Context, ref string) (string, error) {
	if err := f.resolveErrs[ref]; err != nil {
		return "", err
	}
	return "https://files.example/" + ref, nil
}

func (f *fakeTransport) Fetch(_ context.Context, url string) (io.ReadCloser, error) {
	ref := strings.TrimPrefix(url, "https://files.example/")
	if err := f.fetchErrs[ref]; err != nil {
		return nil, err
	}
	payload, ok := f.files[ref]
	if !ok {
		return nil, fmt.Errorf("no payload for %s", ref)
	}
	return io.NopCloser(strings.NewReader(string(payload))), nil
}

func (f *fakeTransport) SendArchive(_ context.Context, id, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sentArchives = append(f.sentArchives, path)
	return nil
}

func (f *fakeTransport) SendFile(_ context.Context, id, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sentFiles = append(f.sentFiles, path)
	return nil
}

func (f *fakeTransport) Notify(_ context.Context, id, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifications = append(f.notifications, text)
	return nil
}

func (f *fakeTransport) StickerSet(context.Context, string) (transport.StickerSet, error) {
	return transport.StickerSet{}, errors.New("not implemented")
}

// fakeTranscoder writes a stub gif unless told to fail.
type fakeTranscoder struct {
	mu    sync.Mutex
	err   error
	calls []string
}

func (f *fakeTranscoder) Convert(_ context.Context, src, dst string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, src)
	return os.WriteFile(dst, []byte("GIF89a-stub"), 0o644)
}

type fixture struct {
	store     *session.Store
	dirs      *workdir.Manager
	transport *fakeTransport
	transcode *fakeTranscoder
	orch      *Orchestrator
	pack      i18n.Pack
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := session.NewStore(nil, kv.NewMemory())
	dirs := workdir.NewManager(nil, t.TempDir())
	tp := newFakeTransport()
	tc := &fakeTranscoder{}
	bundle, err := i18n.Load("en_US")
	if err != nil {
		t.Fatalf("i18n: %v", err)
	}
	return &fixture{
		store:     store,
		dirs:      dirs,
		transport: tp,
		transcode: tc,
		orch:      NewOrchestrator(nil, store, dirs, tp, tc, 3, "test comment"),
		pack:      bundle.Pack("en_US"),
	}
}

// lockedSession writes a locked record to the store and returns the snapshot
// the controller would hand over.
func (f *fixture) lockedSession(t *testing.T, id string, refs ...string) *session.Session {
	t.Helper()
	sess := session.New(id, time.Now())
	for _, ref := range refs {
		sess.AddItem(ref)
	}
	sess.Locked = true
	if err := f.store.Save(context.Background(), sess); err != nil {
		t.Fatalf("save: %v", err)
	}
	return sess.Clone()
}

func (f *fixture) assertCleanedUp(t *testing.T, id string) {
	t.Helper()
	record, err := f.store.Load(context.Background(), id)
	if err != nil {
		t.Fatalf("load after run: %v", err)
	}
	if record != nil {
		t.Fatalf("session record survived cleanup: %+v", record)
	}
	if _, err := os.Stat(f.dirs.Path(id)); !os.IsNotExist(err) {
		t.Fatalf("working tree survived cleanup")
	}
}

func TestRunDeliversArchive(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.transport.files["s1.webp"] = []byte("RIFFxxxxWEBP")
	f.transport.files["s2.webp"] = []byte("RIFFyyyyWEBP")
	snap := f.lockedSession(t, "c1", "s1.webp", "s2.webp")

	if err := f.orch.Run(context.Background(), snap, f.pack); err != nil {
		t.Fatalf("run: %v", err)
	}
	// The archive is sent before the working tree is destroyed; it only
	// survives in the transport's record.
	if len(f.transport.sentArchives) != 1 {
		t.Fatalf("expected one delivered archive, got %v", f.transport.sentArchives)
	}
	f.assertCleanedUp(t, "c1")
}

func TestRunConvertsVideoStickers(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.transport.files["v1.webm"] = []byte{0x1A, 0x45, 0xDF, 0xA3, 0x01}
	snap := f.lockedSession(t, "c1", "v1.webm")

	if err := f.orch.Run(context.Background(), snap, f.pack); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(f.transcode.calls) != 1 {
		t.Fatalf("transcoder not invoked: %v", f.transcode.calls)
	}
	if len(f.transport.sentArchives) != 1 {
		t.Fatalf("archive not delivered")
	}
}

func TestRunToleratesPartialDownloadFailures(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	refs := []string{"a.webp", "b.webp", "c.webp", "d.webp", "e.webp"}
	for _, ref := range refs {
		f.transport.files[ref] = []byte("RIFF" + ref)
	}
	f.transport.fetchErrs["b.webp"] = errors.New("boom")
	f.transport.fetchErrs["d.webp"] = errors.New("boom")
	snap := f.lockedSession(t, "c1", refs...)

	// The archive must be inspected at delivery time, before cleanup
	// deletes it.
	f.orchWithArchiveCheck(t, snap, 3)
}

// orchWithArchiveCheck runs the pipeline against a transport whose
// SendArchive inspects the zip while it still exists.
func (f *fixture) orchWithArchiveCheck(t *testing.T, snap *session.Session, wantEntries int) {
	t.Helper()
	checking := &archiveCheckTransport{fakeTransport: f.transport, t: t, want: wantEntries}
	orch := NewOrchestrator(nil, f.store, f.dirs, checking, f.transcode, 3, "")
	if err := orch.Run(context.Background(), snap, f.pack); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !checking.checked {
		t.Fatalf("archive was never delivered")
	}
	f.assertCleanedUp(t, snap.ConversationID)
}

type archiveCheckTransport struct {
	*fakeTransport
	t       *testing.T
	want    int
	checked bool
}

func (a *archiveCheckTransport) SendArchive(ctx context.Context, id, path string) error {
	entries, err := archive.CountEntries(path)
	if err != nil {
		a.t.Errorf("count entries: %v", err)
	}
	if entries != a.want {
		a.t.Errorf("archive entries = %d, want %d", entries, a.want)
	}
	a.checked = true
	return a.fakeTransport.SendArchive(ctx, id, path)
}

func TestRunAbortsWhenAllDownloadsFail(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	refs := []string{"a.webp", "b.webp"}
	for _, ref := range refs {
		f.transport.fetchErrs[ref] = errors.New("boom")
	}
	snap := f.lockedSession(t, "c1", refs...)

	err := f.orch.Run(context.Background(), snap, f.pack)
	if !errors.Is(err, ErrNothingConverted) {
		t.Fatalf("expected ErrNothingConverted, got %v", err)
	}
	if len(f.transport.sentArchives) != 0 {
		t.Fatalf("archive delivered despite total failure")
	}
	f.assertCleanedUp(t, "c1")
}

func TestRunAbortsOnResolveFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.transport.files["a.webp"] = []byte("RIFFaaaa")
	f.transport.resolveErrs["b.webp"] = errors.New("telegram down")
	snap := f.lockedSession(t, "c1", "a.webp", "b.webp")

	if err := f.orch.Run(context.Background(), snap, f.pack); err == nil {
		t.Fatalf("expected resolve-stage abort")
	}
	if len(f.transport.sentArchives) != 0 {
		t.Fatalf("archive delivered after resolve failure")
	}
	f.assertCleanedUp(t, "c1")
}

func TestRunSkipsUnsupportedFormats(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.transport.files["a.webp"] = []byte("RIFFaaaa")
	f.transport.files["weird.tgs"] = []byte("not-convertible")
	snap := f.lockedSession(t, "c1", "a.webp", "weird.tgs")

	if err := f.orch.Run(context.Background(), snap, f.pack); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(f.transport.sentArchives) != 1 {
		t.Fatalf("archive not delivered")
	}
	f.assertCleanedUp(t, "c1")
}

func TestRunInfersExtensionFromContent(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	// Remote name with no extension carrying a webm signature: it must be
	// routed to the transcoder, not the copy path.
	f.transport.files["noext"] = []byte{0x1A, 0x45, 0xDF, 0xA3, 0x42}
	snap := f.lockedSession(t, "c1", "noext")

	if err := f.orch.Run(context.Background(), snap, f.pack); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(f.transcode.calls) != 1 {
		t.Fatalf("expected transcode of inferred webm, calls=%v", f.transcode.calls)
	}
}

func TestRunPanicsOnUnlockedSession(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	sess := session.New("c1", time.Now())
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for unlocked session")
		}
	}()
	_ = f.orch.Run(context.Background(), sess, f.pack)
}

func TestRunCleansUpOnDeliveryFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.transport.files["a.webp"] = []byte("RIFFaaaa")
	f.transport.sendErr = errors.New("telegram rejected the document")
	snap := f.lockedSession(t, "c1", "a.webp")

	if err := f.orch.Run(context.Background(), snap, f.pack); err == nil {
		t.Fatalf("expected delivery error")
	}
	f.assertCleanedUp(t, "c1")
}

func TestRunDirect(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.transport.files["solo.webp"] = []byte("RIFFsolo")

	if err := f.orch.RunDirect(context.Background(), "c9", "solo.webp", f.pack); err != nil {
		t.Fatalf("run direct: %v", err)
	}
	if len(f.transport.sentFiles) != 1 {
		t.Fatalf("expected one delivered file, got %v", f.transport.sentFiles)
	}
	if _, err := os.Stat(f.dirs.Path("c9")); !os.IsNotExist(err) {
		t.Fatalf("direct working tree survived")
	}
}

func TestRunDirectReportsUnsupportedFormat(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.transport.files["odd.tgs"] = []byte("???")

	err := f.orch.RunDirect(context.Background(), "c9", "odd.tgs", f.pack)
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
	if len(f.transport.sentFiles) != 0 {
		t.Fatalf("file delivered despite failure")
	}
}
