package publish

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/davidsbond/blog/internal/cryptoutil"
)

// fakeS3 stores objects in memory and behaves like S3 for the subset the
// publisher uses.
type fakeS3 struct {
	objects map[string]fakeObject
	puts    int
	heads   int
	putErr  error
}

type fakeObject struct {
	body         []byte
	metadata     map[string]string
	cacheControl *string
	encoding     *string
	contentType  *string
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string]fakeObject)}
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.heads++
	obj, ok := f.objects[*in.Key]
	if !ok {
		return nil, &s3types.NotFound{}
	}
	return &s3.HeadObjectOutput{Metadata: obj.metadata}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.puts++
	if f.putErr != nil {
		return nil, f.putErr
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[*in.Key] = fakeObject{
		body:         body,
		metadata:     in.Metadata,
		cacheControl: in.CacheControl,
		encoding:     in.ContentEncoding,
		contentType:  in.ContentType,
	}
	return &s3.PutObjectOutput{}, nil
}

func strptr(s string) *string { return &s }

func newPublisher(t *testing.T, client s3API) *Publisher {
	t.Helper()
	p, err := New(Options{Bucket: "blog.dsb.dev", Client: client})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestPublish_UploadsWithDirectives(t *testing.T) {
	fake := newFakeS3()
	p := newPublisher(t, fake)

	items := []Item{
		{Path: "css/style.css", Body: []byte("body{}"), CacheControl: strptr("max-age=31536000, no-transform, public"), Gzip: true},
		{Path: "index.html", Body: []byte("<html></html>")},
	}

	sum, err := p.Publish(context.Background(), items)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if sum.Uploaded != 2 || sum.Skipped != 0 {
		t.Fatalf("summary: %+v", sum)
	}

	css := fake.objects["css/style.css"]
	if css.cacheControl == nil || *css.cacheControl != "max-age=31536000, no-transform, public" {
		t.Error("cache-control directive not applied")
	}
	if css.encoding == nil || *css.encoding != "gzip" {
		t.Error("gzip directive not applied")
	}
	// stored body must actually be gzip and decompress to the original
	gr, err := gzip.NewReader(bytes.NewReader(css.body))
	if err != nil {
		t.Fatalf("stored css is not gzip: %v", err)
	}
	plain, _ := io.ReadAll(gr)
	if string(plain) != "body{}" {
		t.Errorf("decompressed body: got %q", plain)
	}

	html := fake.objects["index.html"]
	if html.cacheControl != nil {
		t.Error("absent cache-control must not emit a header")
	}
	if html.encoding != nil {
		t.Error("non-gzip item must not carry content-encoding")
	}
	if html.contentType == nil || !strings.Contains(*html.contentType, "text/html") {
		t.Errorf("content-type: got %v", html.contentType)
	}
}

func TestPublish_SecondRunIsNoOp(t *testing.T) {
	fake := newFakeS3()
	p := newPublisher(t, fake)

	items := []Item{
		{Path: "index.html", Body: []byte("<html></html>")},
		{Path: "feed.xml", Body: []byte("<rss/>")},
	}

	if _, err := p.Publish(context.Background(), items); err != nil {
		t.Fatalf("first publish: %v", err)
	}
	putsAfterFirst := fake.puts

	sum, err := p.Publish(context.Background(), items)
	if err != nil {
		t.Fatalf("second publish: %v", err)
	}
	if sum.Uploaded != 0 || sum.Skipped != 2 {
		t.Fatalf("second run summary: %+v", sum)
	}
	if fake.puts != putsAfterFirst {
		t.Error("second publish re-uploaded unchanged objects")
	}
}

func TestPublish_ChangedContentReuploaded(t *testing.T) {
	fake := newFakeS3()
	p := newPublisher(t, fake)

	if _, err := p.Publish(context.Background(), []Item{{Path: "index.html", Body: []byte("v1")}}); err != nil {
		t.Fatalf("publish v1: %v", err)
	}

	sum, err := p.Publish(context.Background(), []Item{{Path: "index.html", Body: []byte("v2")}})
	if err != nil {
		t.Fatalf("publish v2: %v", err)
	}
	if sum.Uploaded != 1 {
		t.Fatalf("changed object not re-uploaded: %+v", sum)
	}
	if got := fake.objects["index.html"].metadata[hashMetadataKey]; got != cryptoutil.SHA256Hex([]byte("v2")) {
		t.Error("stored hash metadata not updated")
	}
}

func TestPublish_DirectiveChangeReuploads(t *testing.T) {
	fake := newFakeS3()
	p := newPublisher(t, fake)

	item := Item{Path: "index.html", Body: []byte("<html>home</html>"), CacheControl: strptr("public, max-age=60")}
	if _, err := p.Publish(context.Background(), []Item{item}); err != nil {
		t.Fatalf("first publish: %v", err)
	}

	// same body, matcher now assigns a longer lifetime
	item.CacheControl = strptr("public, max-age=31536000")
	sum, err := p.Publish(context.Background(), []Item{item})
	if err != nil {
		t.Fatalf("re-publish: %v", err)
	}
	if sum.Uploaded != 1 || sum.Skipped != 0 {
		t.Fatalf("directive change not re-uploaded: %+v", sum)
	}
	obj := fake.objects["index.html"]
	if obj.cacheControl == nil || *obj.cacheControl != "public, max-age=31536000" {
		t.Errorf("remote cache-control: got %v, want max-age=31536000", obj.cacheControl)
	}

	// flipping gzip alone must also re-upload
	item.Gzip = true
	sum, err = p.Publish(context.Background(), []Item{item})
	if err != nil {
		t.Fatalf("gzip re-publish: %v", err)
	}
	if sum.Uploaded != 1 {
		t.Fatalf("gzip change not re-uploaded: %+v", sum)
	}
	if enc := fake.objects["index.html"].encoding; enc == nil || *enc != "gzip" {
		t.Error("remote content-encoding not updated")
	}

	// unchanged body and directive is a no-op again
	puts := fake.puts
	sum, err = p.Publish(context.Background(), []Item{item})
	if err != nil {
		t.Fatalf("steady-state publish: %v", err)
	}
	if sum.Skipped != 1 || fake.puts != puts {
		t.Errorf("steady state should skip: %+v, puts %d -> %d", sum, puts, fake.puts)
	}
}

func TestPublish_UploadErrorAborts(t *testing.T) {
	fake := newFakeS3()
	fake.putErr = errors.New("throttled")
	p := newPublisher(t, fake)

	_, err := p.Publish(context.Background(), []Item{{Path: "a", Body: []byte("x")}})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "publish a") {
		t.Errorf("error should name the artifact: %v", err)
	}
}

func TestPublish_PrefixAppliedToKeys(t *testing.T) {
	fake := newFakeS3()
	p, err := New(Options{Bucket: "b", Prefix: "site", Client: fake})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := p.Publish(context.Background(), []Item{{Path: "index.html", Body: []byte("x")}}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if _, ok := fake.objects["site/index.html"]; !ok {
		t.Errorf("keys: got %v", keys(fake.objects))
	}
}

func TestParseTarget(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    Target
		wantErr bool
	}{
		{"bucket only", "s3://blog.dsb.dev", Target{Bucket: "blog.dsb.dev"}, false},
		{"with region", "s3://blog.dsb.dev?region=eu-west-2", Target{Bucket: "blog.dsb.dev", Region: "eu-west-2"}, false},
		{"with prefix", "s3://bucket/site/v2", Target{Bucket: "bucket", Prefix: "site/v2"}, false},
		{"wrong scheme", "gs://bucket", Target{}, true},
		{"no bucket", "s3://", Target{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTarget(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseTarget: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func keys(m map[string]fakeObject) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
