// Package couponimport bulk-loads coupon codes from gzip-compressed files,
// one code per line, all sharing one discount template.
package couponimport

import (
	"bufio"
	"context"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/sales-core/internal/domain/coupon"
)

const (
	defaultCapacity  = 1_000_000
	defaultFPR       = 0.001
	defaultBatchSize = 5_000
	progressEvery    = 1_000_000
)

// Sink is the storage the importer writes to.
type Sink interface {
	// ExistingCodes calls fn with the upper-cased code of every stored coupon.
	ExistingCodes(ctx context.Context, fn func(code string)) error
	// CopyCoupons inserts a batch in one round trip. It returns
	// coupon.ErrDuplicateCode when any code of the batch already exists.
	CopyCoupons(ctx context.Context, batch []coupon.Coupon) (int64, error)
	// InsertIfAbsent inserts c unless its code already exists.
	InsertIfAbsent(ctx context.Context, c coupon.Coupon) (bool, error)
}

// Options tunes the importer.
type Options struct {
	// Capacity is the expected number of distinct codes, existing included.
	Capacity  uint
	FPR       float64
	BatchSize int
	MinLen    int
	MaxLen    int
	Logger    *zap.Logger
}

func (o *Options) setDefaults() {
	if o.Capacity == 0 {
		o.Capacity = defaultCapacity
	}
	if o.FPR == 0 {
		o.FPR = defaultFPR
	}
	if o.BatchSize <= 0 {
		o.BatchSize = defaultBatchSize
	}
	if o.MinLen <= 0 {
		o.MinLen = 4
	}
	if o.MaxLen <= 0 {
		o.MaxLen = 32
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// Stats summarizes an import run.
type Stats struct {
	Read     int64
	Copied   int64
	Inserted int64
	Skipped  int64
	Rejected int64
}

// Importer streams codes into a Sink. Codes the bloom filter has never seen
// take the COPY fast path; possible duplicates go through a conflict-safe
// single insert.
type Importer struct {
	sink     Sink
	template coupon.Coupon
	opts     Options

	mu   sync.Mutex
	seen *bloom.BloomFilter

	read, copied, inserted, skipped, rejected atomic.Int64
}

// New creates an Importer that gives every imported code the discount rules
// of template.
func New(sink Sink, template coupon.Coupon, opts Options) *Importer {
	opts.setDefaults()
	return &Importer{
		sink:     sink,
		template: template,
		opts:     opts,
		seen:     bloom.NewWithEstimates(opts.Capacity, opts.FPR),
	}
}

// Run imports every file concurrently.
func (i *Importer) Run(ctx context.Context, files []string) (Stats, error) {
	lg := i.opts.Logger

	var existing int
	if err := i.sink.ExistingCodes(ctx, func(code string) {
		i.seen.AddString(code)
		existing++
	}); err != nil {
		return Stats{}, errors.Wrap(err, "load existing codes")
	}
	lg.Info("Loaded existing codes", zap.Int("count", existing))

	g, ctx := errgroup.WithContext(ctx)
	for _, f := range files {
		g.Go(func() error {
			return i.importFile(ctx, f)
		})
	}
	err := g.Wait()

	st := Stats{
		Read:     i.read.Load(),
		Copied:   i.copied.Load(),
		Inserted: i.inserted.Load(),
		Skipped:  i.skipped.Load(),
		Rejected: i.rejected.Load(),
	}
	return st, err
}

func (i *Importer) importFile(ctx context.Context, path string) error {
	lg := i.opts.Logger.With(zap.String("file", path))
	batch := make([]coupon.Coupon, 0, i.opts.BatchSize)

	var count int64
	err := streamGzFile(ctx, path, func(line string) error {
		count++
		if count%progressEvery == 0 {
			lg.Info("Import progress", zap.Int64("lines", count))
		}

		code, ok := i.normalize(line)
		if !ok {
			return nil
		}
		c := i.template
		c.Code = code

		if i.maybeSeen(code) {
			return i.insertOne(ctx, c)
		}
		batch = append(batch, c)
		if len(batch) < i.opts.BatchSize {
			return nil
		}
		err := i.flush(ctx, batch)
		batch = batch[:0]
		return err
	})
	if err != nil {
		return errors.Wrapf(err, "import %s", path)
	}
	if err := i.flush(ctx, batch); err != nil {
		return errors.Wrapf(err, "import %s", path)
	}

	lg.Info("File imported", zap.Int64("lines", count))
	return nil
}

func (i *Importer) normalize(line string) (string, bool) {
	code := strings.ToUpper(strings.TrimSpace(line))
	if code == "" {
		return "", false
	}
	i.read.Add(1)
	if len(code) < i.opts.MinLen || len(code) > i.opts.MaxLen {
		i.rejected.Add(1)
		return "", false
	}
	return code, true
}

// maybeSeen records code and reports whether it may have been seen before.
func (i *Importer) maybeSeen(code string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.seen.TestAndAddString(code)
}

func (i *Importer) insertOne(ctx context.Context, c coupon.Coupon) error {
	ok, err := i.sink.InsertIfAbsent(ctx, c)
	if err != nil {
		return err
	}
	if ok {
		i.inserted.Add(1)
	} else {
		i.skipped.Add(1)
	}
	return nil
}

func (i *Importer) flush(ctx context.Context, batch []coupon.Coupon) error {
	if len(batch) == 0 {
		return nil
	}
	n, err := i.sink.CopyCoupons(ctx, batch)
	switch {
	case err == nil:
		i.copied.Add(n)
		return nil
	case errors.Is(err, coupon.ErrDuplicateCode):
		// Another writer got there first; fall back to row-by-row.
		for _, c := range batch {
			if err := i.insertOne(ctx, c); err != nil {
				return err
			}
		}
		return nil
	default:
		return errors.Wrapf(err, "copy batch of %d", len(batch))
	}
}

// streamGzFile opens a gzip-compressed file and calls fn for each line.
func streamGzFile(ctx context.Context, path string, fn func(line string) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(scanner.Text()); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}

	return nil
}
