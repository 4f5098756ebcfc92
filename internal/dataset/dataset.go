// Package dataset is the sweep's persistence sink. A DataSet buffers
// comments, parameters and rows until it has been named, located and created
// in a Vault, then writes every addition straight through.
package dataset

import (
	"fmt"
	"strings"

	"github.com/banshee-data/labsweep/internal/monitoring"
	"github.com/banshee-data/labsweep/internal/sweeperr"
)

// Comment is a free-text note attached to a dataset.
type Comment struct {
	Text   string `json:"text"`
	Author string `json:"author"`
}

// Parameter is a named, unit-carrying value attached to a dataset.
type Parameter struct {
	Name  string  `json:"name"`
	Units string  `json:"units,omitempty"`
	Value float64 `json:"value"`
}

// Vault is a dataset store.
type Vault interface {
	Open() (Session, error)
}

// Session is a connection to a Vault with a current directory and, after
// New, a current dataset. Sessions are not safe for concurrent use.
type Session interface {
	// Cd changes the current directory to path, creating missing
	// directories when create is set.
	Cd(path []string, create bool) error
	// New creates a dataset in the current directory and makes it current.
	New(name string, independents, dependents []string) (id string, err error)
	Add(rows [][]float64) error
	AddComment(text, author string) error
	AddParameter(p Parameter) error
	Close() error
}

// DataSet buffers writes until it is created.
type DataSet struct {
	vault        Vault
	session      Session
	name         string
	location     []string
	independents []string
	dependents   []string

	comments   []Comment
	parameters []Parameter
	rows       [][]float64

	id          string
	created     bool
	closed      bool
	rowsWritten int
}

// New returns an unnamed DataSet with the given columns.
func New(vault Vault, independents, dependents []string) *DataSet {
	return &DataSet{
		vault:        vault,
		independents: append([]string(nil), independents...),
		dependents:   append([]string(nil), dependents...),
	}
}

func (d *DataSet) Name() string           { return d.name }
func (d *DataSet) Location() []string     { return append([]string(nil), d.location...) }
func (d *DataSet) Independents() []string { return append([]string(nil), d.independents...) }
func (d *DataSet) Dependents() []string   { return append([]string(nil), d.dependents...) }
func (d *DataSet) ID() string             { return d.id }
func (d *DataSet) Created() bool          { return d.created }
func (d *DataSet) Closed() bool           { return d.closed }
func (d *DataSet) RowsWritten() int       { return d.rowsWritten }

// Width is the number of values in every row.
func (d *DataSet) Width() int { return len(d.independents) + len(d.dependents) }

// Pending returns the number of buffered rows.
func (d *DataSet) Pending() int { return len(d.rows) }

// SetName sets the dataset name. It has no effect once created.
func (d *DataSet) SetName(name string) { d.name = strings.TrimSpace(name) }

// SetLocation sets the vault directory. It has no effect once created.
func (d *DataSet) SetLocation(location []string) {
	d.location = append([]string(nil), location...)
}

// Ready reports whether the dataset has a name and location and can be
// created.
func (d *DataSet) Ready() bool { return d.name != "" && len(d.location) > 0 }

// Create opens a session, changes into the location (creating it) and
// creates the dataset. Buffered entries are flushed.
func (d *DataSet) Create() error {
	switch {
	case d.closed:
		return fmt.Errorf("%w: dataset %q is closed", sweeperr.ErrInvalidState, d.name)
	case d.created:
		return fmt.Errorf("%w: dataset %q already created", sweeperr.ErrInvalidState, d.name)
	case !d.Ready():
		return fmt.Errorf("%w: dataset needs a name and location (name=%q, location=%v)", sweeperr.ErrInvalidState, d.name, d.location)
	case d.vault == nil:
		return fmt.Errorf("%w: dataset %q has no vault", sweeperr.ErrConfiguration, d.name)
	}

	sess, err := d.vault.Open()
	if err != nil {
		return fmt.Errorf("open vault: %w", err)
	}
	if err := sess.Cd(d.location, true); err != nil {
		sess.Close()
		return fmt.Errorf("cd %v: %w", d.location, err)
	}
	id, err := sess.New(d.name, d.independents, d.dependents)
	if err != nil {
		sess.Close()
		return fmt.Errorf("new dataset %q: %w", d.name, err)
	}
	d.session = sess
	d.id = id
	d.created = true
	monitoring.Logf("[dataset] created %q in %s (id %s)", d.name, strings.Join(d.location, "/"), id)

	return d.Flush()
}

// AddComments buffers comments and writes them if the dataset exists.
func (d *DataSet) AddComments(comments ...Comment) error {
	if d.closed {
		return fmt.Errorf("%w: dataset %q is closed", sweeperr.ErrInvalidState, d.name)
	}
	d.comments = append(d.comments, comments...)
	if d.created {
		d.writeComments()
	}
	return nil
}

// AddParameters buffers parameters and writes them if the dataset exists.
func (d *DataSet) AddParameters(params ...Parameter) error {
	if d.closed {
		return fmt.Errorf("%w: dataset %q is closed", sweeperr.ErrInvalidState, d.name)
	}
	for _, p := range params {
		if p.Name == "" {
			return fmt.Errorf("%w: parameter needs a name", sweeperr.ErrInvalidArgument)
		}
	}
	d.parameters = append(d.parameters, params...)
	if d.created {
		d.writeParameters()
	}
	return nil
}

// AddData validates and buffers rows. With write set and the dataset
// created, the buffer is written immediately.
func (d *DataSet) AddData(rows [][]float64, write bool) error {
	if d.closed {
		return fmt.Errorf("%w: dataset %q is closed", sweeperr.ErrInvalidState, d.name)
	}
	for i, r := range rows {
		if len(r) != d.Width() {
			return fmt.Errorf("%w: row %d has %d values, want %d", sweeperr.ErrInvalidArgument, i, len(r), d.Width())
		}
	}
	for _, r := range rows {
		d.rows = append(d.rows, append([]float64(nil), r...))
	}
	if write && d.created {
		return d.writeData()
	}
	return nil
}

// Flush writes every buffered entry. It is a no-op before creation.
func (d *DataSet) Flush() error {
	if !d.created || d.closed {
		return nil
	}
	d.writeComments()
	d.writeParameters()
	return d.writeData()
}

// Comment and parameter failures are logged and dropped; they never abort a
// sweep.
func (d *DataSet) writeComments() {
	for _, c := range d.comments {
		if err := d.session.AddComment(c.Text, c.Author); err != nil {
			monitoring.Logf("[dataset] dropping comment by %q: %v", c.Author, err)
		}
	}
	d.comments = nil
}

func (d *DataSet) writeParameters() {
	for _, p := range d.parameters {
		if err := d.session.AddParameter(p); err != nil {
			monitoring.Logf("[dataset] dropping parameter %q: %v", p.Name, err)
		}
	}
	d.parameters = nil
}

func (d *DataSet) writeData() error {
	if len(d.rows) == 0 {
		return nil
	}
	if err := d.session.Add(d.rows); err != nil {
		return fmt.Errorf("write %d rows to %q: %w", len(d.rows), d.name, err)
	}
	d.rowsWritten += len(d.rows)
	d.rows = nil
	return nil
}

// Close flushes what it can and releases the session. Rows that could not
// be written are reported in the returned error. Close is idempotent.
func (d *DataSet) Close() error {
	if d.closed {
		return nil
	}
	var flushErr error
	if d.created {
		flushErr = d.Flush()
	} else if n := len(d.rows); n > 0 {
		monitoring.Logf("[dataset] closing %q with %d unwritten rows (never created)", d.name, n)
	}
	d.closed = true
	if d.session != nil {
		if err := d.session.Close(); err != nil && flushErr == nil {
			return fmt.Errorf("close dataset %q: %w", d.name, err)
		}
	}
	return flushErr
}
