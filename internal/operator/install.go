package operator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/mumuon/geobuild/internal/buildengine/errs"
	"github.com/mumuon/geobuild/internal/fsutil"
	"github.com/mumuon/geobuild/internal/graph"
)

// Installer provisions the tile-server live data directory from a staging
// directory (spec.md §4.7 Install, §1 "the basemap/tile subsystem...
// treated as an Install capability"). The default adapter publishes to an
// S3-compatible bucket, the same pattern the teacher's S3Client uses to
// publish generated tiles to R2.
type Installer interface {
	Publish(ctx context.Context, stagingDir, bucketPrefix string) error
}

// S3Installer is the default Installer, grounded on the teacher's s3.go
// UploadDirectory: a bounded worker pool over every file in stagingDir.
type S3Installer struct {
	Client     *s3.Client
	Uploader   *manager.Uploader
	Bucket     string
	NumWorkers int
}

// NewS3Installer builds an S3-compatible client from explicit credentials
// and an endpoint override, mirroring the teacher's NewS3Client custom R2
// endpoint resolver in s3.go.
func NewS3Installer(ctx context.Context, endpoint, accessKeyID, secretAccessKey, region, bucket string) (*S3Installer, error) {
	customResolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		if service == s3.ServiceID && endpoint != "" {
			return aws.Endpoint{URL: endpoint, SigningRegion: region}, nil
		}
		return aws.Endpoint{}, &smithy.GenericAPIError{Code: "UnknownEndpoint"}
	})

	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, "")),
		awsconfig.WithEndpointResolverWithOptions(customResolver),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})

	return &S3Installer{
		Client:     client,
		Uploader:   manager.NewUploader(client),
		Bucket:     bucket,
		NumWorkers: 100,
	}, nil
}

// Publish uploads every file under stagingDir to bucketPrefix, using a
// bounded worker pool as the teacher's UploadDirectory does (channel of
// paths, WaitGroup, non-blocking error channel). It does not log progress.
func (s3i *S3Installer) Publish(ctx context.Context, stagingDir, bucketPrefix string) error {
	type job struct{ localPath, key string }
	jobs := make(chan job, 1000)
	errCh := make(chan error, 1)
	var wg sync.WaitGroup
	var uploaded int
	var mu sync.Mutex

	numWorkers := s3i.NumWorkers
	if numWorkers <= 0 {
		numWorkers = 100
	}
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				f, err := os.Open(j.localPath)
				if err != nil {
					select {
					case errCh <- err:
					default:
					}
					continue
				}
				_, err = s3i.Uploader.Upload(ctx, &s3.PutObjectInput{
					Bucket: &s3i.Bucket,
					Key:    &j.key,
					Body:   f,
				})
				f.Close()
				if err != nil {
					select {
					case errCh <- err:
					default:
					}
					continue
				}
				mu.Lock()
				uploaded++
				mu.Unlock()
			}
		}()
	}

	walkErr := filepath.WalkDir(stagingDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(stagingDir, path)
		if err != nil {
			return err
		}
		key := bucketPrefix + "/" + filepath.ToSlash(rel)
		jobs <- job{localPath: path, key: key}
		return nil
	})
	close(jobs)
	wg.Wait()

	if walkErr != nil {
		return fmt.Errorf("walk staging directory %q: %w", stagingDir, walkErr)
	}
	select {
	case err := <-errCh:
		return fmt.Errorf("publish to s3: %w", err)
	default:
	}
	return nil
}

// Install implements spec.md §4.7: provision the tile-server data directory
// (copy static assets, run the external tile baker for a global coastline
// base and a local detail merge, assemble per-dataset stylesheets plus one
// aggregate stylesheet, assemble the config document, copy fonts), then
// publish staging to live.
func Install(ctx context.Context, n *graph.Node, env Env) error {
	if err := checkCancel(ctx, n, env.Stop); err != nil {
		return err
	}

	var osmPath string
	for _, c := range n.Children {
		if c.Action == graph.ActionDownload {
			osmPath = filepath.Join(env.FS.Root, c.Output)
		}
	}

	staging := env.FS.TileserverStaging()
	if err := fsutil.RemoveDirContents(staging); err != nil {
		return err
	}

	if err := copyStaticAssets(env.FS.Install(), staging); err != nil {
		return err
	}

	coastline := filepath.Join(staging, "coastline.mbtiles")
	if err := bakeTiles(ctx, env.Tools.TileBaker, osmPath, coastline, false); err != nil {
		return err
	}
	detail := filepath.Join(staging, "detail.mbtiles")
	if err := bakeTiles(ctx, env.Tools.TileBaker, osmPath, detail, true); err != nil {
		return err
	}

	if err := assembleStylesheets(staging, n); err != nil {
		return err
	}
	if err := assembleConfigDocument(staging, n); err != nil {
		return err
	}
	if err := copyFonts(env.FS.Install(), staging); err != nil {
		return err
	}

	live := env.FS.TileserverLive()
	if err := fsutil.RemoveDirContents(live); err != nil {
		return err
	}
	if err := copyTree(staging, live); err != nil {
		return err
	}

	if env.Installer != nil {
		if err := env.Installer.Publish(ctx, staging, n.Attrs.Branch); err != nil {
			return &errs.NetworkError{Op: "publish tileserver assets", Err: err}
		}
	}
	return nil
}

func copyStaticAssets(installDir, staging string) error {
	return copyTree(installDir, staging)
}

func copyTree(src, dst string) error {
	if _, err := os.Stat(src); os.IsNotExist(err) {
		return nil
	}
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return fsutil.CopyFile(path, target)
	})
}

func bakeTiles(ctx context.Context, tool, osmPath, destPath string, merge bool) error {
	if tool == "" {
		tool = "tile-baker"
	}
	tmp := destPath + ".tmp"
	os.Remove(tmp)
	args := []string{"-o", tmp}
	if merge {
		args = append(args, "--merge")
	}
	if osmPath != "" {
		args = append(args, osmPath)
	}
	cmd := exec.CommandContext(ctx, tool, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		exitCode := -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		return &errs.ExternalToolError{Tool: tool, ExitCode: exitCode, Stderr: string(out)}
	}
	return fsutil.RenameInto(tmp, destPath)
}

func assembleStylesheets(staging string, n *graph.Node) error {
	var structure map[string]any
	if len(n.Attrs.Structure) > 0 {
		_ = json.Unmarshal(n.Attrs.Structure, &structure)
	}
	aggregate := map[string]any{}
	for name, v := range structure {
		stylePath := filepath.Join(staging, "styles", slug(name)+".json")
		if err := fsutil.WriteAtomic(stylePath, func(w io.Writer) error {
			return json.NewEncoder(w).Encode(v)
		}); err != nil {
			return err
		}
		aggregate[name] = v
	}
	aggPath := filepath.Join(staging, "styles", "aggregate.json")
	return fsutil.WriteAtomic(aggPath, func(w io.Writer) error {
		return json.NewEncoder(w).Encode(aggregate)
	})
}

func assembleConfigDocument(staging string, n *graph.Node) error {
	cfg := map[string]any{
		"name":      n.Title,
		"structure": json.RawMessage(n.Attrs.Structure),
	}
	return fsutil.WriteAtomic(filepath.Join(staging, "config.json"), func(w io.Writer) error {
		return json.NewEncoder(w).Encode(cfg)
	})
}

func copyFonts(installDir, staging string) error {
	src := filepath.Join(installDir, "fonts")
	if _, err := os.Stat(src); os.IsNotExist(err) {
		return nil
	}
	return copyTree(src, filepath.Join(staging, "fonts"))
}

func slug(s string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), " ", "-"))
}
