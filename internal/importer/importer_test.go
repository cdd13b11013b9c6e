package importer

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telarin/latentvault/database/models"
	"github.com/telarin/latentvault/internal/metadata"
)

// ---- 测试夹具 ----

type memRepo struct {
	images        []*models.Image
	nextID        uint
	failCreateFor string // 命中该文件名时 Create 返回错误
}

func (r *memRepo) ExistsByOwnerFileOrigin(userID uint, fileName string, originTime int64) (bool, error) {
	for _, img := range r.images {
		if img.UserID == userID && img.FileName == fileName && img.OriginTime == originTime {
			return true, nil
		}
	}
	return false, nil
}

func (r *memRepo) FileNameExists(userID uint, fileName string) (bool, error) {
	for _, img := range r.images {
		if img.UserID == userID && img.FileName == fileName {
			return true, nil
		}
	}
	return false, nil
}

func (r *memRepo) FileNamesByOwnerOrigin(userID uint, originTime int64) ([]string, error) {
	var names []string
	for _, img := range r.images {
		if img.UserID == userID && img.OriginTime == originTime {
			names = append(names, img.FileName)
		}
	}
	return names, nil
}

func (r *memRepo) Create(img *models.Image) error {
	if r.failCreateFor != "" && img.FileName == r.failCreateFor {
		return errors.New("create failed")
	}
	r.nextID++
	img.ID = r.nextID
	cp := *img
	r.images = append(r.images, &cp)
	return nil
}

type memStore struct {
	mu    sync.Mutex
	files map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{files: make(map[string][]byte)}
}

func (s *memStore) SaveWithContext(_ context.Context, key string, file io.Reader) error {
	data, err := io.ReadAll(file)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[key] = data
	return nil
}

func (s *memStore) GetWithContext(_ context.Context, key string) (io.ReadSeeker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[key]
	if !ok {
		return nil, fmt.Errorf("not found: %s", key)
	}
	return readSeeker(data), nil
}

func (s *memStore) DeleteWithContext(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, key)
	return nil
}

func (s *memStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.files[key]
	return ok, nil
}

func (s *memStore) Health(context.Context) error { return nil }
func (s *memStore) Name() string                 { return "mem" }

type recordingEnqueuer struct {
	ids []string
}

func (e *recordingEnqueuer) EnqueueThumbnail(img *models.Image) bool {
	e.ids = append(e.ids, img.Identifier)
	return true
}

// ---- 合成图片文件 ----

var pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

func chunk(typ string, payload []byte) []byte {
	buf := make([]byte, 0, len(payload)+12)
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(payload)))
	buf = append(buf, length[:]...)
	buf = append(buf, typ...)
	buf = append(buf, payload...)
	buf = append(buf, 0xde, 0xad, 0xbe, 0xef)
	return buf
}

func textChunk(key, value string) []byte {
	payload := append(append([]byte(key), 0), []byte(value)...)
	return chunk("tEXt", payload)
}

func pngFile(chunks ...[]byte) []byte {
	data := append([]byte{}, pngSignature...)
	for _, c := range chunks {
		data = append(data, c...)
	}
	return append(data, chunk("IEND", nil)...)
}

func pngWithMetadata() []byte {
	prompt := `{
		"1": {"class_type": "CheckpointLoaderSimple", "inputs": {"ckpt_name": "dreamshaper_8.safetensors"}},
		"2": {"class_type": "CLIPTextEncode", "inputs": {"text": "castle on a hill"}},
		"3": {"class_type": "KSampler", "inputs": {"steps": 20, "cfg": 7.5, "sampler_name": "euler"}}
	}`
	return pngFile(textChunk("prompt", prompt))
}

func plainPNG(filler string) []byte {
	return pngFile(textChunk("comment", filler))
}

func writeImage(t *testing.T, dir, name string, data []byte, mtime time.Time) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
	return path
}

func readSeeker(data []byte) io.ReadSeeker {
	return &sliceReadSeeker{data: data}
}

type sliceReadSeeker struct {
	data []byte
	off  int64
}

func (r *sliceReadSeeker) Read(p []byte) (int, error) {
	if r.off >= int64(len(r.data)) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.off:])
	r.off += int64(n)
	return n, nil
}

func (r *sliceReadSeeker) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		r.off = offset
	case io.SeekCurrent:
		r.off += offset
	case io.SeekEnd:
		r.off = int64(len(r.data)) + offset
	}
	return r.off, nil
}

var (
	mtimeA = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	mtimeB = time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC)
)

func resultFor(t *testing.T, sum *Summary, path string) FileResult {
	t.Helper()
	for _, r := range sum.Results {
		if r.Path == path {
			return r
		}
	}
	t.Fatalf("no result for %s", path)
	return FileResult{}
}

// ---- 扫描 ----

func TestScanDirFiltersAndOrders(t *testing.T) {
	dir := t.TempDir()
	writeImage(t, dir, "a.png", plainPNG("a"), mtimeA)
	writeImage(t, dir, "c.webp", plainPNG("c"), mtimeA)
	writeImage(t, dir, "sub/b.jpg", plainPNG("b"), mtimeB)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip me"), 0o644))

	got, err := ScanDir(dir)
	require.NoError(t, err)

	require.Len(t, got, 3)
	assert.Equal(t, "a.png", got[0].Path)
	assert.Equal(t, "c.webp", got[1].Path)
	assert.Equal(t, filepath.Join("sub", "b.jpg"), got[2].Path)

	assert.Equal(t, "b.jpg", got[2].FileName)
	assert.Equal(t, mtimeB.UnixMilli(), got[2].OriginTime)
	assert.Greater(t, got[0].FileSize, int64(0))
}

func TestScanDirMissingRoot(t *testing.T) {
	_, err := ScanDir(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

// ---- 批量导入 ----

func TestImportBatchCopyThenRerunSkipsAll(t *testing.T) {
	dir := t.TempDir()
	writeImage(t, dir, "castle.png", pngWithMetadata(), mtimeA)
	writeImage(t, dir, "plain.png", plainPNG("x"), mtimeB)

	repo := &memRepo{}
	store := newMemStore()
	enq := &recordingEnqueuer{}
	svc := NewService(repo, store, enq, 0)

	sum, err := svc.ImportBatch(context.Background(), 1, BatchRequest{SourceDir: dir, Mode: ModeCopy})
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Imported)
	assert.Equal(t, 0, sum.Skipped)
	assert.Equal(t, 0, sum.Errors)
	assert.NotEmpty(t, sum.BatchID)
	assert.Len(t, enq.ids, 2)

	// 元数据随导入一起提取
	var withMeta *models.Image
	for _, img := range repo.images {
		if img.FileName == "castle.png" {
			withMeta = img
		}
	}
	require.NotNil(t, withMeta)
	require.NotNil(t, withMeta.PromptText)
	assert.Equal(t, "castle on a hill", *withMeta.PromptText)
	require.NotNil(t, withMeta.Params)
	var params metadata.GenerationParameters
	require.NoError(t, json.Unmarshal([]byte(*withMeta.Params), &params))
	require.NotNil(t, params.Steps)
	assert.Equal(t, 20, *params.Steps)
	assert.Equal(t, "dreamshaper_8.safetensors", *params.Checkpoint)

	assert.Len(t, withMeta.Identifier, 12)
	assert.Equal(t, "library/1/castle.png", withMeta.FilePath)
	assert.Contains(t, store.files, "library/1/castle.png")
	assert.Equal(t, mtimeA.UnixMilli(), withMeta.OriginTime)

	// 相同目录再导一遍：全部按重复跳过
	sum2, err := svc.ImportBatch(context.Background(), 1, BatchRequest{SourceDir: dir, Mode: ModeCopy})
	require.NoError(t, err)
	assert.Equal(t, 0, sum2.Imported)
	assert.Equal(t, 2, sum2.Skipped)
	assert.Equal(t, 0, sum2.Errors)
	assert.Len(t, repo.images, 2)
}

func TestImportBatchCollisionRenames(t *testing.T) {
	repo := &memRepo{}
	store := newMemStore()
	svc := NewService(repo, store, nil, 0)

	dir1 := t.TempDir()
	writeImage(t, dir1, "a.png", plainPNG("first"), mtimeA)
	_, err := svc.ImportBatch(context.Background(), 1, BatchRequest{SourceDir: dir1, Mode: ModeCopy})
	require.NoError(t, err)

	// 同名不同文件：应改名入库，两条记录并存
	dir2 := t.TempDir()
	writeImage(t, dir2, "a.png", plainPNG("second"), mtimeB)
	sum, err := svc.ImportBatch(context.Background(), 1, BatchRequest{SourceDir: dir2, Mode: ModeCopy})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Imported)

	res := resultFor(t, sum, "a.png")
	assert.True(t, res.Renamed)
	assert.Regexp(t, regexp.MustCompile(`^a_\d+\.png$`), res.FileName)
	require.Len(t, repo.images, 2)

	// 改名后的同一来源再导：按重复跳过而不是再次改名
	sum2, err := svc.ImportBatch(context.Background(), 1, BatchRequest{SourceDir: dir2, Mode: ModeCopy})
	require.NoError(t, err)
	assert.Equal(t, 0, sum2.Imported)
	assert.Equal(t, 1, sum2.Skipped)
	assert.Len(t, repo.images, 2)
}

func TestImportBatchMoveDeletesSource(t *testing.T) {
	dir := t.TempDir()
	src := writeImage(t, dir, "gone.png", plainPNG("m"), mtimeA)

	svc := NewService(&memRepo{}, newMemStore(), nil, 0)
	sum, err := svc.ImportBatch(context.Background(), 3, BatchRequest{SourceDir: dir, Mode: ModeMove})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Imported)

	_, statErr := os.Stat(src)
	assert.True(t, os.IsNotExist(statErr))
}

func TestImportBatchReferenceKeepsSourceInPlace(t *testing.T) {
	dir := t.TempDir()
	src := writeImage(t, dir, "ref.png", plainPNG("r"), mtimeA)

	repo := &memRepo{}
	store := newMemStore()
	svc := NewService(repo, store, nil, 0)

	sum, err := svc.ImportBatch(context.Background(), 3, BatchRequest{SourceDir: dir, Mode: ModeReference})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Imported)

	// 文件不动，记录里登记原始绝对路径
	_, statErr := os.Stat(src)
	assert.NoError(t, statErr)
	assert.Empty(t, store.files)
	require.Len(t, repo.images, 1)
	assert.True(t, filepath.IsAbs(repo.images[0].FilePath))
	assert.Equal(t, src, repo.images[0].FilePath)
}

func TestImportBatchIsolatesPerFileFailures(t *testing.T) {
	dir := t.TempDir()
	writeImage(t, dir, "good.png", plainPNG("ok"), mtimeA)
	// 扩展名对但内容不是图片
	writeImage(t, dir, "bad.png", []byte("definitely not an image"), mtimeB)

	svc := NewService(&memRepo{}, newMemStore(), nil, 0)
	sum, err := svc.ImportBatch(context.Background(), 1, BatchRequest{SourceDir: dir, Mode: ModeCopy})
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Imported)
	assert.Equal(t, 1, sum.Errors)
	bad := resultFor(t, sum, "bad.png")
	assert.Equal(t, StatusError, bad.Status)
	assert.NotEmpty(t, bad.Error)
}

func TestImportBatchRejectsEscapingPaths(t *testing.T) {
	dir := t.TempDir()
	outside := writeImage(t, filepath.Dir(dir), "evil.png", plainPNG("e"), mtimeA)

	svc := NewService(&memRepo{}, newMemStore(), nil, 0)
	sum, err := svc.ImportBatch(context.Background(), 1, BatchRequest{
		SourceDir: dir,
		Selected:  []string{filepath.Join("..", filepath.Base(outside))},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Errors)

	_, statErr := os.Stat(outside)
	assert.NoError(t, statErr)
}

func TestImportBatchDeletesOnlyExplicitUnselected(t *testing.T) {
	dir := t.TempDir()
	writeImage(t, dir, "keep.png", plainPNG("k"), mtimeA)
	dropped := writeImage(t, dir, "drop.png", plainPNG("d"), mtimeB)

	svc := NewService(&memRepo{}, newMemStore(), nil, 0)
	sum, err := svc.ImportBatch(context.Background(), 1, BatchRequest{
		SourceDir:        dir,
		Mode:             ModeCopy,
		Selected:         []string{"keep.png"},
		DeleteUnselected: true,
		Unselected:       []string{"drop.png"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Imported)

	_, statErr := os.Stat(dropped)
	assert.True(t, os.IsNotExist(statErr))
}

func TestImportBatchNeverDeletesInReferenceMode(t *testing.T) {
	dir := t.TempDir()
	writeImage(t, dir, "keep.png", plainPNG("k"), mtimeA)
	dropped := writeImage(t, dir, "drop.png", plainPNG("d"), mtimeB)

	svc := NewService(&memRepo{}, newMemStore(), nil, 0)
	_, err := svc.ImportBatch(context.Background(), 1, BatchRequest{
		SourceDir:        dir,
		Mode:             ModeReference,
		Selected:         []string{"keep.png"},
		DeleteUnselected: true,
		Unselected:       []string{"drop.png"},
	})
	require.NoError(t, err)

	_, statErr := os.Stat(dropped)
	assert.NoError(t, statErr)
}

func TestImportBatchCleanupIgnoresEscapingPaths(t *testing.T) {
	dir := t.TempDir()
	writeImage(t, dir, "keep.png", plainPNG("k"), mtimeA)
	outside := writeImage(t, filepath.Dir(dir), "precious.png", plainPNG("p"), mtimeB)

	svc := NewService(&memRepo{}, newMemStore(), nil, 0)
	_, err := svc.ImportBatch(context.Background(), 1, BatchRequest{
		SourceDir:        dir,
		Mode:             ModeCopy,
		Selected:         []string{"keep.png"},
		DeleteUnselected: true,
		Unselected:       []string{filepath.Join("..", filepath.Base(outside))},
	})
	require.NoError(t, err)

	_, statErr := os.Stat(outside)
	assert.NoError(t, statErr)
}

func TestImportBatchUnknownMode(t *testing.T) {
	svc := NewService(&memRepo{}, newMemStore(), nil, 0)
	_, err := svc.ImportBatch(context.Background(), 1, BatchRequest{SourceDir: t.TempDir(), Mode: "symlink"})
	assert.Error(t, err)
}

// ---- 上传 ----

func TestImportUpload(t *testing.T) {
	repo := &memRepo{}
	store := newMemStore()
	enq := &recordingEnqueuer{}
	svc := NewService(repo, store, enq, 0)

	img, err := svc.ImportUpload(context.Background(), 7, "new.png", pngWithMetadata())
	require.NoError(t, err)
	assert.Equal(t, "new.png", img.FileName)
	assert.Equal(t, "library/7/new.png", img.FilePath)
	assert.Greater(t, img.OriginTime, int64(0))
	assert.NotNil(t, img.PromptText)
	assert.Contains(t, store.files, "library/7/new.png")
	assert.Len(t, enq.ids, 1)

	// 同名上传走冲突改名
	img2, err := svc.ImportUpload(context.Background(), 7, "new.png", plainPNG("other"))
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^new_\d+\.png$`), img2.FileName)
	require.Len(t, repo.images, 2)
}

func TestImportUploadRejectsNonImage(t *testing.T) {
	svc := NewService(&memRepo{}, newMemStore(), nil, 0)
	_, err := svc.ImportUpload(context.Background(), 7, "evil.png", []byte("#!/bin/sh\nrm -rf /"))
	assert.Error(t, err)
}

// ---- 预检 ----

func TestReviewClassifiesAndPaginates(t *testing.T) {
	repo := &memRepo{}
	store := newMemStore()
	svc := NewService(repo, store, nil, 0)

	// 预先入库：a.png 完全相同，b.png 同名不同来源时间
	seed := t.TempDir()
	writeImage(t, seed, "a.png", plainPNG("a"), mtimeA)
	writeImage(t, seed, "b.png", plainPNG("b1"), mtimeA)
	_, err := svc.ImportBatch(context.Background(), 1, BatchRequest{SourceDir: seed, Mode: ModeCopy})
	require.NoError(t, err)

	dir := t.TempDir()
	writeImage(t, dir, "a.png", plainPNG("a"), mtimeA)
	writeImage(t, dir, "b.png", plainPNG("b2"), mtimeB)
	writeImage(t, dir, "c.png", plainPNG("c"), mtimeB)

	page1, err := svc.Review(context.Background(), 1, dir, 1, 2, false)
	require.NoError(t, err)
	assert.Equal(t, 3, page1.Total)
	require.Len(t, page1.Items, 2)
	assert.Equal(t, "a.png", page1.Items[0].FileName)
	assert.Equal(t, ClassDuplicate, page1.Items[0].Status)
	assert.Equal(t, "b.png", page1.Items[1].FileName)
	assert.Equal(t, ClassCollision, page1.Items[1].Status)
	assert.Empty(t, page1.Items[0].Preview)

	page2, err := svc.Review(context.Background(), 1, dir, 2, 2, false)
	require.NoError(t, err)
	require.Len(t, page2.Items, 1)
	assert.Equal(t, "c.png", page2.Items[0].FileName)
	assert.Equal(t, ClassNew, page2.Items[0].Status)

	// 越界页返回空列表而不是错误
	page9, err := svc.Review(context.Background(), 1, dir, 9, 2, false)
	require.NoError(t, err)
	assert.Empty(t, page9.Items)
	assert.Equal(t, 3, page9.Total)
}

// ---- 命名与改名判定 ----

func TestRenameWithTimestamp(t *testing.T) {
	assert.Regexp(t, regexp.MustCompile(`^img_\d+\.png$`), renameWithTimestamp("img.png"))
	assert.Regexp(t, regexp.MustCompile(`^archive\.tar_\d+\.gz$`), renameWithTimestamp("archive.tar.gz"))
	assert.Regexp(t, regexp.MustCompile(`^noext_\d+$`), renameWithTimestamp("noext"))
}

func TestHasRenamedVariant(t *testing.T) {
	assert.True(t, hasRenamedVariant([]string{"a_1714550400000.png"}, "a.png"))
	assert.False(t, hasRenamedVariant([]string{"a.png"}, "a.png"))
	assert.False(t, hasRenamedVariant([]string{"a_backup.png"}, "a.png"))
	assert.False(t, hasRenamedVariant([]string{"a_123.jpg"}, "a.png"))
	assert.False(t, hasRenamedVariant(nil, "a.png"))
}
