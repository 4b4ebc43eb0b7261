package crawler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"gallery2disk/pkg/archive"
	"gallery2disk/pkg/config"
	"gallery2disk/pkg/fetch"
	"gallery2disk/pkg/models"
	"gallery2disk/pkg/storage"
	"gallery2disk/pkg/utils"
)

const (
	site      = "http://gallery.test"
	snapStamp = "20070101000000"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

// fakeArchive serves an availability endpoint and archived snapshots keyed by original URL
type fakeArchive struct {
	server *httptest.Server

	mu        sync.Mutex
	snapshots map[string]string
	requests  []string
}

func newFakeArchive(t *testing.T) *fakeArchive {
	t.Helper()
	fa := &fakeArchive{snapshots: map[string]string{}}
	fa.server = httptest.NewServer(http.HandlerFunc(fa.handle))
	t.Cleanup(fa.server.Close)
	return fa
}

func (fa *fakeArchive) handle(w http.ResponseWriter, r *http.Request) {
	fa.mu.Lock()
	fa.requests = append(fa.requests, r.URL.RequestURI())
	fa.mu.Unlock()

	switch {
	case r.URL.Path == "/wayback/available":
		orig := r.URL.Query().Get("url")
		if _, ok := fa.get(orig); !ok {
			io.WriteString(w, `{"archived_snapshots": {}}`)
			return
		}
		fmt.Fprintf(w, `{"archived_snapshots": {"closest": {"available": true, "status": "200", "timestamp": %q, "url": %q}}}`,
			snapStamp, fa.snapshotURL(orig))
	case strings.HasPrefix(r.URL.Path, "/web/"):
		body, ok := fa.get(archive.UnarchivedURL(r.URL.RequestURI()))
		if !ok {
			http.NotFound(w, r)
			return
		}
		if strings.HasPrefix(body, "<") {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
		}
		io.WriteString(w, body)
	default:
		http.NotFound(w, r)
	}
}

func (fa *fakeArchive) get(orig string) (string, bool) {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	body, ok := fa.snapshots[orig]
	return body, ok
}

func (fa *fakeArchive) add(orig, body string) {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	fa.snapshots[orig] = body
}

// snapshotURL is the archived form of an original URL on this server
func (fa *fakeArchive) snapshotURL(orig string) string {
	return fa.server.URL + "/web/" + snapStamp + "/" + orig
}

func (fa *fakeArchive) requestCount(prefix string) int {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	n := 0
	for _, r := range fa.requests {
		if strings.HasPrefix(r, prefix) {
			n++
		}
	}
	return n
}

type testEnv struct {
	archive *fakeArchive
	cfg     *config.AppConfig
	ledger  *storage.BadgerStore
	crawler *Crawler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	fa := newFakeArchive(t)

	cfg := config.DefaultAppConfig()
	cfg.OutputDir = filepath.Join(t.TempDir(), "output")
	cfg.CacheDir = filepath.Join(t.TempDir(), "cache")
	cfg.StateDir = t.TempDir()
	cfg.RequestDelay = 0
	cfg.AvailabilityURL = fa.server.URL + "/wayback/available"
	_, err := cfg.Validate()
	require.NoError(t, err)

	cache, err := fetch.NewDiskCache(cfg.CacheDir, testLogger())
	require.NoError(t, err)
	fetcher := fetch.NewCachedFetcher(fa.server.Client(), cache, fetch.NewRateLimiter(0, testLogger()), cfg.UserAgent, testLogger())

	ledger, err := storage.NewBadgerStore(context.Background(), cfg.StateDir, "gallery.test", testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { ledger.Close() })

	c, err := New(cfg, fetcher, ledger, testLogger())
	require.NoError(t, err)

	return &testEnv{archive: fa, cfg: cfg, ledger: ledger, crawler: c}
}

// --- HTML builders ---

func frontHTML(lastPage int, albums ...models.Album) string {
	var b strings.Builder
	b.WriteString("<html><body><table>")
	for _, a := range albums {
		fmt.Fprintf(&b, `<tr><td class="title"><a href="%s">%s</a></td></tr>`, a.Href, a.Title)
	}
	b.WriteString("</table>")
	if lastPage > 0 {
		fmt.Fprintf(&b, `<a href="albums.php?set_albumListPage=%d"><img alt="Last Page" src="last.gif"></a>`, lastPage)
	}
	b.WriteString("</body></html>")
	return b.String()
}

type thumb struct {
	name    string // Image basename without extension, thumbnails live under /albums/<album>/
	album   string
	pageURL string
}

func galleryHTML(lastPage int, subAlbums []models.Album, thumbs ...thumb) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	for _, a := range subAlbums {
		fmt.Fprintf(&b, `<div class="vathumbs"><div class="modcaption"><center><b>Album: <a href="%s">%s</a></b></center></div></div>`, a.Href, a.Title)
	}
	for _, th := range thumbs {
		img := fmt.Sprintf(`<img src="/web/%sim_/%s/albums/%s/%s.thumb.jpg">`, snapStamp, site, th.album, th.name)
		if th.pageURL != "" {
			img = fmt.Sprintf(`<a href="%s">%s</a>`, th.pageURL, img)
		}
		fmt.Fprintf(&b, `<div class="vathumbs"><div class="vafloat2">%s</div>`, img)
		fmt.Fprintf(&b, `<div class="modcaption"><div>%s</div><div>Viewed: 3 times</div></div></div>`, th.name)
	}
	if lastPage > 1 {
		fmt.Fprintf(&b, `<a href="view_album.php?page=%d"><img alt="Last Page" src="last.gif"></a>`, lastPage)
	}
	b.WriteString("</body></html>")
	return b.String()
}

const imagePageHTML = `<html><body><div class="pcaption">Sunset</div>
<table class="commentbox">
<tr><td></td><td>Kari</td><td>(Sat, 13 Jan 2007 13:03:00 +0000)</td></tr>
<tr><td>Nice</td></tr>
</table></body></html>`

func albumURL(name string) string {
	return site + "/gallery/view_album.php?set_albumName=" + name
}

func imageURL(album, file string) string {
	return site + "/albums/" + album + "/" + file
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

// --- CollectAllAlbums ---

func TestCollectAllAlbums_PaginatedIndex(t *testing.T) {
	env := newTestEnv(t)
	fa := env.archive

	fa.add(site+"/gallery/", frontHTML(2,
		models.Album{Title: "A1", Href: "view_album.php?set_albumName=a1"},
		models.Album{Title: "A2", Href: "view_album.php?set_albumName=a2"},
	))
	fa.add(site+"/gallery/albums.php?set_albumListPage=2", frontHTML(2,
		models.Album{Title: "A3", Href: "view_album.php?set_albumName=a3"},
		models.Album{Title: "A4", Href: "view_album.php?set_albumName=a4"},
	))

	albums, err := env.crawler.CollectAllAlbums(context.Background(), site+"/gallery/")
	require.NoError(t, err)

	require.Len(t, albums, 4)
	var titles []string
	for _, a := range albums {
		titles = append(titles, a.Title)
	}
	assert.Equal(t, []string{"A1", "A2", "A3", "A4"}, titles)
	assert.Equal(t, fa.snapshotURL(albumURL("a1")), albums[0].Href)
	assert.Equal(t, fa.snapshotURL(albumURL("a3")), albums[2].Href)
}

func TestCollectAllAlbums_MissingIndexPageSkipped(t *testing.T) {
	env := newTestEnv(t)
	fa := env.archive

	fa.add(site+"/gallery/", frontHTML(3, models.Album{Title: "A1", Href: "a1"}))
	fa.add(site+"/gallery/albums.php?set_albumListPage=3", frontHTML(3, models.Album{Title: "A3", Href: "a3"}))

	albums, err := env.crawler.CollectAllAlbums(context.Background(), site+"/gallery/")
	require.NoError(t, err)

	require.Len(t, albums, 2)
	assert.Equal(t, "A1", albums[0].Title)
	assert.Equal(t, "A3", albums[1].Title)
	assert.Equal(t, 1, env.crawler.skippedPages)
}

func TestCollectAllAlbums_FrontNotArchived(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.crawler.CollectAllAlbums(context.Background(), site+"/gallery/")
	assert.ErrorIs(t, err, utils.ErrNotArchived)
}

// --- SaveImage ---

func TestSaveImage_FirstAvailableCandidateWins(t *testing.T) {
	env := newTestEnv(t)
	fa := env.archive
	dir := t.TempDir()

	a, b, c := imageURL("x", "p.jpg"), imageURL("x", "p.sized.jpg"), imageURL("x", "p.thumb.jpg")
	fa.add(c, "thumb-bytes")
	fa.add(site+"/gallery/view_photo.php?id=p", imagePageHTML)

	err := env.crawler.SaveImage(context.Background(), models.Image{
		URLs:    []string{a, b, c},
		PageURL: fa.snapshotURL(site + "/gallery/view_photo.php?id=p"),
	}, dir)
	require.NoError(t, err)

	assert.Equal(t, "thumb-bytes", readFile(t, filepath.Join(dir, "p.thumb.jpg")))
	assert.NoFileExists(t, filepath.Join(dir, "p.jpg"))
	assert.Equal(t, a+"\n"+b+"\n", readFile(t, filepath.Join(dir, utils.NotFoundLogName)))
	assert.JSONEq(t,
		`{"comments":[{"name":"Kari","date":"2007-01-13T14:03:00+01:00","comment":"Nice"}],"caption":"Sunset"}`,
		readFile(t, filepath.Join(dir, "p.thumb.jpg.metadata")))

	status, entry, err := env.ledger.CheckImageStatus(a)
	require.NoError(t, err)
	assert.Equal(t, models.ImageStatusSaved, status)
	assert.Equal(t, c, entry.SavedFrom)
	assert.Equal(t, []string{a, b}, entry.MissingURLs)
}

func TestSaveImage_MetadataNamedAfterFirstCandidateWhenNothingSaved(t *testing.T) {
	env := newTestEnv(t)
	fa := env.archive
	dir := t.TempDir()

	urls := []string{imageURL("x", "q.jpg"), imageURL("x", "q.sized.jpg"), imageURL("x", "q.thumb.jpg")}
	fa.add(site+"/gallery/view_photo.php?id=q", imagePageHTML)

	err := env.crawler.SaveImage(context.Background(), models.Image{
		URLs:    urls,
		PageURL: fa.snapshotURL(site + "/gallery/view_photo.php?id=q"),
	}, dir)
	require.NoError(t, err)

	// Orphaned metadata: no image file carries this name
	assert.FileExists(t, filepath.Join(dir, "q.jpg.metadata"))
	assert.NoFileExists(t, filepath.Join(dir, "q.jpg"))
	assert.Equal(t, strings.Join(urls, "\n")+"\n", readFile(t, filepath.Join(dir, utils.NotFoundLogName)))

	status, entry, err := env.ledger.CheckImageStatus(urls[0])
	require.NoError(t, err)
	assert.Equal(t, models.ImageStatusMissing, status)
	assert.NotEmpty(t, entry.MetadataPath)
}

func TestSaveImage_MissingDetailPageLogged(t *testing.T) {
	env := newTestEnv(t)
	fa := env.archive
	dir := t.TempDir()

	img := imageURL("x", "r.jpg")
	fa.add(img, "full")
	pageOrig := site + "/gallery/view_photo.php?id=r"

	err := env.crawler.SaveImage(context.Background(), models.Image{
		URLs:    []string{img},
		PageURL: fa.snapshotURL(pageOrig),
	}, dir)
	require.NoError(t, err)

	assert.Equal(t, "full", readFile(t, filepath.Join(dir, "r.jpg")))
	assert.NoFileExists(t, filepath.Join(dir, "r.jpg.metadata"))
	assert.Equal(t, pageOrig+"\n", readFile(t, filepath.Join(dir, utils.NotFoundLogName)))
}

func TestSaveImage_NoCandidatesIsNoop(t *testing.T) {
	env := newTestEnv(t)
	dir := t.TempDir()

	err := env.crawler.SaveImage(context.Background(), models.Image{PageURL: "http://gallery.test/x"}, dir)
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Zero(t, env.archive.requestCount("/"))
}

func TestSaveImage_AppendsAcrossImages(t *testing.T) {
	env := newTestEnv(t)
	dir := t.TempDir()

	require.NoError(t, env.crawler.SaveImage(context.Background(), models.Image{URLs: []string{imageURL("x", "1.jpg")}}, dir))
	require.NoError(t, env.crawler.SaveImage(context.Background(), models.Image{URLs: []string{imageURL("x", "2.jpg")}}, dir))

	assert.Equal(t, imageURL("x", "1.jpg")+"\n"+imageURL("x", "2.jpg")+"\n", readFile(t, filepath.Join(dir, utils.NotFoundLogName)))
}

// --- DownloadAlbum ---

func TestDownloadAlbum_PagesAndSubAlbums(t *testing.T) {
	env := newTestEnv(t)
	fa := env.archive

	beach := models.Album{Title: "Beach: days!", Href: fa.snapshotURL(albumURL("beach"))}
	fa.add(albumURL("summer"), galleryHTML(3, []models.Album{beach}, thumb{name: "p1", album: "summer"}))
	fa.add(albumURL("summer")+"&page=2", galleryHTML(3, nil, thumb{name: "p2", album: "summer"}))
	// page 3 was never archived
	fa.add(albumURL("beach"), galleryHTML(1, nil, thumb{name: "p3", album: "beach"}))
	for _, f := range []string{imageURL("summer", "p1.jpg"), imageURL("summer", "p2.jpg"), imageURL("beach", "p3.jpg")} {
		fa.add(f, "img:"+f)
	}

	out := env.cfg.OutputDir
	err := env.crawler.DownloadAlbum(context.Background(), models.Album{Title: "Summer", Href: fa.snapshotURL(albumURL("summer"))}, out)
	require.NoError(t, err)

	assert.Equal(t, "img:"+imageURL("summer", "p1.jpg"), readFile(t, filepath.Join(out, "Summer", "p1.jpg")))
	assert.FileExists(t, filepath.Join(out, "Summer", "p2.jpg"))
	assert.FileExists(t, filepath.Join(out, "Summer", "Beach_ days_", "p3.jpg"))
	assert.Equal(t, 1, env.crawler.skippedPages)
	assert.Equal(t, 0, env.crawler.skippedAlbums)

	stats, err := env.ledger.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.AlbumsVisited)
	assert.Equal(t, 3, stats.ImagesSaved)
}

func TestDownloadAlbum_MissingAlbumPage(t *testing.T) {
	env := newTestEnv(t)

	err := env.crawler.DownloadAlbum(context.Background(), models.Album{Title: "Gone", Href: env.archive.snapshotURL(albumURL("gone"))}, env.cfg.OutputDir)
	require.NoError(t, err)

	assert.DirExists(t, filepath.Join(env.cfg.OutputDir, "Gone"))
	assert.Equal(t, 1, env.crawler.skippedPages)
}

func TestDownloadAlbum_CycleGuard(t *testing.T) {
	env := newTestEnv(t)
	fa := env.archive

	a := models.Album{Title: "A", Href: fa.snapshotURL(albumURL("a"))}
	// B links back to A through a different snapshot of the same page
	aElsewhere := models.Album{Title: "A", Href: "http://web.archive.org/web/20050101000000/" + albumURL("a")}
	b := models.Album{Title: "B", Href: fa.snapshotURL(albumURL("b"))}
	fa.add(albumURL("a"), galleryHTML(1, []models.Album{b}))
	fa.add(albumURL("b"), galleryHTML(1, []models.Album{aElsewhere}))

	err := env.crawler.DownloadAlbum(context.Background(), a, env.cfg.OutputDir)
	require.NoError(t, err)

	assert.DirExists(t, filepath.Join(env.cfg.OutputDir, "A", "B"))
	assert.NoDirExists(t, filepath.Join(env.cfg.OutputDir, "A", "B", "A"))
	assert.Equal(t, 1, env.crawler.skippedAlbums)
}

func TestDownloadAlbum_SiblingRepeatsAllowed(t *testing.T) {
	env := newTestEnv(t)
	fa := env.archive

	shared := models.Album{Title: "Shared", Href: fa.snapshotURL(albumURL("shared"))}
	fa.add(albumURL("root"), galleryHTML(1, []models.Album{
		{Title: "Left", Href: fa.snapshotURL(albumURL("left"))},
		{Title: "Right", Href: fa.snapshotURL(albumURL("right"))},
	}))
	fa.add(albumURL("left"), galleryHTML(1, []models.Album{shared}))
	fa.add(albumURL("right"), galleryHTML(1, []models.Album{shared}))
	fa.add(albumURL("shared"), galleryHTML(1, nil))

	err := env.crawler.DownloadAlbum(context.Background(), models.Album{Title: "Root", Href: fa.snapshotURL(albumURL("root"))}, env.cfg.OutputDir)
	require.NoError(t, err)

	assert.DirExists(t, filepath.Join(env.cfg.OutputDir, "Root", "Left", "Shared"))
	assert.DirExists(t, filepath.Join(env.cfg.OutputDir, "Root", "Right", "Shared"))
	assert.Equal(t, 0, env.crawler.skippedAlbums)

	stats, err := env.ledger.Stats()
	require.NoError(t, err)
	assert.Equal(t, 4, stats.AlbumsVisited)
	assert.Equal(t, 1, stats.AlbumRevisits)
}

func TestDownloadAlbum_DepthCap(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.MaxAlbumDepth = 1
	fa := env.archive

	l1 := models.Album{Title: "L1", Href: fa.snapshotURL(albumURL("l1"))}
	l2 := models.Album{Title: "L2", Href: fa.snapshotURL(albumURL("l2"))}
	fa.add(albumURL("l0"), galleryHTML(1, []models.Album{l1}))
	fa.add(albumURL("l1"), galleryHTML(1, []models.Album{l2}))
	fa.add(albumURL("l2"), galleryHTML(1, nil))

	err := env.crawler.DownloadAlbum(context.Background(), models.Album{Title: "L0", Href: fa.snapshotURL(albumURL("l0"))}, env.cfg.OutputDir)
	require.NoError(t, err)

	assert.DirExists(t, filepath.Join(env.cfg.OutputDir, "L0", "L1"))
	assert.NoDirExists(t, filepath.Join(env.cfg.OutputDir, "L0", "L1", "L2"))
	assert.Equal(t, 1, env.crawler.skippedAlbums)
}

func TestDownloadAlbum_Cancelled(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := env.crawler.DownloadAlbum(ctx, models.Album{Title: "A", Href: env.archive.snapshotURL(albumURL("a"))}, env.cfg.OutputDir)
	assert.ErrorIs(t, err, context.Canceled)
}

// --- Run ---

func TestRun_WritesSummaryAndTree(t *testing.T) {
	env := newTestEnv(t)
	fa := env.archive

	fa.add(site+"/gallery/", frontHTML(0, models.Album{Title: "Summer", Href: "view_album.php?set_albumName=summer"}))
	fa.add(albumURL("summer"), galleryHTML(1, nil, thumb{name: "p1", album: "summer"}))
	fa.add(imageURL("summer", "p1.jpg"), "jpeg")

	summary, err := env.crawler.Run(context.Background(), site+"/gallery/")
	require.NoError(t, err)

	assert.Equal(t, env.crawler.RunID(), summary.RunID)
	assert.Equal(t, 1, summary.TopLevelAlbums)
	assert.Equal(t, 1, summary.Ledger.ImagesSaved)
	assert.FileExists(t, filepath.Join(env.cfg.OutputDir, "Summer", "p1.jpg"))

	var onDisk models.CrawlSummary
	require.NoError(t, yaml.Unmarshal([]byte(readFile(t, filepath.Join(env.cfg.OutputDir, env.cfg.SummaryFilename))), &onDisk))
	assert.Equal(t, site+"/gallery/", onDisk.BaseURL)
	assert.Equal(t, "20080101", onDisk.ContentBefore)
	assert.Equal(t, 1, onDisk.Ledger.AlbumsVisited)

	tree := readFile(t, filepath.Join(env.cfg.OutputDir, env.cfg.AlbumTreeFilename))
	assert.Contains(t, tree, "Summer/ (1 images, 0 metadata, 0 not found)")
}

func TestRun_SecondRunServedFromCache(t *testing.T) {
	env := newTestEnv(t)
	fa := env.archive

	fa.add(site+"/gallery/", frontHTML(0, models.Album{Title: "Summer", Href: "view_album.php?set_albumName=summer"}))
	fa.add(albumURL("summer"), galleryHTML(1, nil, thumb{name: "p1", album: "summer"}))

	_, err := env.crawler.Run(context.Background(), site+"/gallery/")
	require.NoError(t, err)
	first := fa.requestCount("/")

	_, err = env.crawler.Run(context.Background(), site+"/gallery/")
	require.NoError(t, err)
	assert.Equal(t, first, fa.requestCount("/"))
}

func TestRun_FrontNotArchived(t *testing.T) {
	env := newTestEnv(t)

	summary, err := env.crawler.Run(context.Background(), site+"/gallery/")
	assert.ErrorIs(t, err, utils.ErrNotArchived)
	assert.Nil(t, summary)
}

func TestWithPageParam(t *testing.T) {
	assert.Equal(t, "http://a/v/summer?page=2", withPageParam("http://a/v/summer", "page", 2))
	assert.Equal(t, "http://a/view_album.php?set_albumName=s&page=3", withPageParam("http://a/view_album.php?set_albumName=s", "page", 3))
}
