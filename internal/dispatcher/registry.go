package dispatcher

import (
	"fmt"
	"time"

	"graphstore/internal/common"
)

// handler validates and runs one query shape.
type handler func(d *Dispatcher, q *Query, page pageRequest) ([]common.KeyValue, error)

type shapeEntry struct {
	Name    string
	Handler handler
}

var registry = make(map[string]*shapeEntry)

// Register adds a query shape. ensure checks the query and extracts what exec
// needs; exec reads the rows of one page.
func Register[I any](
	name string,
	ensure func(*Dispatcher, *Query) (I, error),
	exec func(*Dispatcher, I, pageRequest) ([]common.KeyValue, error),
) {
	if name == "" {
		panic("query shape name cannot be empty")
	}
	if _, ok := registry[name]; ok {
		panic(fmt.Sprintf("query shape %q already registered", name))
	}
	if ensure == nil || exec == nil {
		panic(fmt.Sprintf("query shape %q must supply ensure and exec", name))
	}

	h := func(d *Dispatcher, q *Query, page pageRequest) ([]common.KeyValue, error) {
		in, err := ensure(d, q)
		if err != nil {
			d.logger.Debug("query rejected", "shape", name, "table", q.TableID, "error", err)
			return nil, err
		}

		t0 := time.Now()
		rows, err := exec(d, in, page)
		dt := time.Since(t0)

		if err != nil {
			d.logger.Warn("query failed", "shape", name, "table", q.TableID, "took", dt, "error", err)
		} else {
			d.logger.Debug("query done", "shape", name, "table", q.TableID, "rows", len(rows), "took", dt)
		}
		return rows, err
	}

	registry[name] = &shapeEntry{Name: name, Handler: h}
}

func lookup(name string) (*shapeEntry, bool) {
	s, ok := registry[name]
	return s, ok
}
