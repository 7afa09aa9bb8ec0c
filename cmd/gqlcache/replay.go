package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"

	"github.com/unkn0wn-root/gqlcache"
	"github.com/unkn0wn-root/gqlcache/record"
)

// Script is a replayable list of cache operations.
//
//	steps:
//	  - op: write
//	    fields: {__typename: Comment, id: 5, content: hi}
//	  - op: watch
//	    name: w
//	    id: Comment:5
//	    select: [content, {author: [name]}]
//	  - op: optimistic
//	    tx: t1
//	    entities: [{id: Comment:5, fields: {content: draft}}]
//	  - op: commit
//	    tx: t1
type Script struct {
	Steps []Step `yaml:"steps"`
}

// Step is one operation. Which fields apply depends on Op.
type Step struct {
	Op         string         `yaml:"op"`
	ID         string         `yaml:"id"`
	Tx         string         `yaml:"tx"`
	Name       string         `yaml:"name"`
	Fields     map[string]any `yaml:"fields"`
	Entities   []ScriptEntity `yaml:"entities"`
	Names      []string       `yaml:"names"`
	Select     []any          `yaml:"select"`
	AllowError bool           `yaml:"allow_error"`

	// mutate only
	Response []ScriptEntity `yaml:"response"`
	Errors   []string       `yaml:"errors"`
	Fail     string         `yaml:"fail"`
	Policy   string         `yaml:"policy"`
}

type ScriptEntity struct {
	ID     string         `yaml:"id"`
	Fields map[string]any `yaml:"fields"`
}

// LoadScript reads a script file. Unknown fields are rejected.
func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseScript(data)
}

func ParseScript(data []byte) (*Script, error) {
	var s Script
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("script: %w", err)
	}
	return &s, nil
}

// runner executes steps and prints what each one changed, read or
// triggered. Notifications arrive synchronously during the step that
// caused them, so output order is stable.
type runner struct {
	a       *app
	out     io.Writer
	watches map[string]gqlcache.SubscriptionID
	names   map[gqlcache.SubscriptionID]string
}

func newRunner(a *app, out io.Writer) *runner {
	return &runner{
		a:       a,
		out:     out,
		watches: make(map[string]gqlcache.SubscriptionID),
		names:   make(map[gqlcache.SubscriptionID]string),
	}
}

func (r *runner) Run(ctx context.Context, s *Script) error {
	for i, st := range s.Steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := r.step(ctx, st)
		if err == nil {
			continue
		}
		if !st.AllowError {
			return fmt.Errorf("step %d (%s): %w", i+1, st.Op, err)
		}
		fmt.Fprintf(r.out, "%s error: %v\n", st.Op, err)
	}
	return nil
}

func (r *runner) step(ctx context.Context, st Step) error {
	c := r.a.cache
	switch st.Op {
	case "write":
		fields, err := record.ObjectFromPlain(st.Fields)
		if err != nil {
			return err
		}
		if st.ID == "" {
			id, cs, err := c.WriteEntity(fields)
			if err != nil {
				return err
			}
			r.printf("write %s: %s", id, changes(cs))
			return nil
		}
		cs, err := c.WriteCanonical(record.ID(st.ID), fields)
		if err != nil {
			return err
		}
		r.printf("write %s: %s", st.ID, changes(cs))
	case "optimistic":
		ents, err := entities(st.Entities)
		if err != nil {
			return err
		}
		cs, err := c.BeginOptimistic(gqlcache.TxID(st.Tx), ents...)
		if err != nil {
			return err
		}
		r.printf("optimistic %s: %s", st.Tx, changes(cs))
	case "commit":
		ents, err := entities(st.Entities)
		if err != nil {
			return err
		}
		cs, err := c.Commit(gqlcache.TxID(st.Tx), ents...)
		if err != nil {
			return err
		}
		r.printf("commit %s: %s", st.Tx, changes(cs))
	case "abort":
		cs, err := c.Abort(gqlcache.TxID(st.Tx))
		if err != nil {
			return err
		}
		r.printf("abort %s: %s", st.Tx, changes(cs))
	case "evict":
		cs, err := c.Evict(record.ID(st.ID), st.Names...)
		if err != nil {
			return err
		}
		r.printf("evict %s: %s", st.ID, changes(cs))
	case "read":
		q, err := selection(st)
		if err != nil {
			return err
		}
		r.printf("read %s %s", st.ID, result(c.Read(q)))
	case "watch":
		if _, dup := r.watches[st.Name]; dup || st.Name == "" {
			return fmt.Errorf("watch name %q is empty or taken", st.Name)
		}
		q, err := selection(st)
		if err != nil {
			return err
		}
		id, res := c.Subscribe(q, r.notify)
		r.watches[st.Name] = id
		r.names[id] = st.Name
		r.printf("watch %s %s", st.Name, result(res))
	case "unwatch":
		id, ok := r.watches[st.Name]
		if !ok {
			return fmt.Errorf("no watch named %q", st.Name)
		}
		c.Unsubscribe(id)
		delete(r.watches, st.Name)
		delete(r.names, id)
		r.printf("unwatch %s", st.Name)
	case "layers":
		r.printf("layers %v", c.Layers())
	case "mutate":
		return r.mutate(ctx, st)
	case "reset":
		if err := c.Reset(); err != nil {
			return err
		}
		r.printf("reset")
	case "save":
		if r.a.persist == nil {
			return errNoPersistence
		}
		n, err := r.a.persist.Save(ctx, c)
		if err != nil {
			return err
		}
		r.printf("save %d entities", n)
	case "load":
		if r.a.persist == nil {
			return errNoPersistence
		}
		ok, cs, err := r.a.persist.Load(ctx, c)
		if err != nil {
			return err
		}
		if !ok {
			r.printf("load miss")
			return nil
		}
		r.printf("load: %s", changes(cs))
	case "invalidate":
		if r.a.persist == nil {
			return errNoPersistence
		}
		if err := r.a.persist.Invalidate(ctx); err != nil {
			return err
		}
		r.printf("invalidate")
	default:
		return fmt.Errorf("unknown op %q", st.Op)
	}
	return nil
}

// mutate runs a mutation whose server response is given by the step.
func (r *runner) mutate(ctx context.Context, st Step) error {
	policy, err := gqlcache.ParseErrorPolicy(st.Policy)
	if err != nil {
		return err
	}
	optimistic, err := entities(st.Entities)
	if err != nil {
		return err
	}
	response, err := entities(st.Response)
	if err != nil {
		return err
	}
	var gqlErrs []gqlcache.GraphQLError
	for _, m := range st.Errors {
		gqlErrs = append(gqlErrs, gqlcache.GraphQLError{Message: m})
	}

	res, err := gqlcache.Mutate(ctx, r.a.cache, gqlcache.Mutation{
		TxID:        gqlcache.TxID(st.Tx),
		Optimistic:  optimistic,
		ErrorPolicy: policy,
		Execute: func(context.Context) (gqlcache.Response, error) {
			if st.Fail != "" {
				return gqlcache.Response{}, errors.New(st.Fail)
			}
			return gqlcache.Response{Entities: response, Errors: gqlErrs}, nil
		},
	})
	if err != nil {
		return err
	}
	r.printf("mutate %s: %s errors=%d", res.TxID, changes(res.Changes), len(res.Errors))
	return nil
}

func (r *runner) notify(n gqlcache.Notification) {
	r.printf("notify %s changes=%s %s", r.names[n.Subscription], changes(n.Changes), result(n.Result))
}

func (r *runner) printf(format string, args ...any) {
	fmt.Fprintf(r.out, format+"\n", args...)
}

func entities(items []ScriptEntity) ([]gqlcache.Entity, error) {
	out := make([]gqlcache.Entity, 0, len(items))
	for i, s := range items {
		fields, err := record.ObjectFromPlain(s.Fields)
		if err != nil {
			return nil, fmt.Errorf("entity %d: %w", i, err)
		}
		out = append(out, gqlcache.Entity{ID: record.ID(s.ID), Fields: fields})
	}
	return out, nil
}

func selection(st Step) (gqlcache.Selection, error) {
	if st.ID == "" {
		return gqlcache.Selection{}, errors.New("id is required")
	}
	fields, err := parseFields(st.Select)
	if err != nil {
		return gqlcache.Selection{}, err
	}
	return gqlcache.Selection{Root: record.ID(st.ID), Fields: fields}, nil
}

// parseFields reads a selection written as YAML: a field name, or a
// single-key map from a field name to its sub-selection.
func parseFields(items []any) ([]gqlcache.Field, error) {
	var out []gqlcache.Field
	for _, it := range items {
		switch x := it.(type) {
		case string:
			out = append(out, gqlcache.F(x))
		case map[string]any:
			names := make([]string, 0, len(x))
			for k := range x {
				names = append(names, k)
			}
			sort.Strings(names)
			for _, name := range names {
				subItems, ok := x[name].([]any)
				if !ok {
					return nil, fmt.Errorf("select %q: expected a list", name)
				}
				sub, err := parseFields(subItems)
				if err != nil {
					return nil, err
				}
				out = append(out, gqlcache.F(name, sub...))
			}
		default:
			return nil, fmt.Errorf("select: unexpected %T", it)
		}
	}
	return out, nil
}

func changes(cs gqlcache.ChangeSet) string {
	parts := make([]string, len(cs))
	for i, r := range cs {
		parts[i] = r.String()
	}
	return "[" + strings.Join(parts, " ") + "]"
}

func result(res gqlcache.Result) string {
	data, err := json.Marshal(res.Data)
	if err != nil {
		data = []byte(fmt.Sprintf("%q", err.Error()))
	}
	var flags []string
	if !res.Complete {
		missing := make([]string, len(res.Missing))
		for i, m := range res.Missing {
			missing[i] = string(m.ID) + "." + m.Field
		}
		flags = append(flags, "missing="+strings.Join(missing, ","))
	}
	if res.Optimistic {
		flags = append(flags, "optimistic")
	}
	if len(flags) == 0 {
		return string(data)
	}
	return string(data) + " " + strings.Join(flags, " ")
}

// writeMetrics prints every gathered sample as name{labels} value.
func writeMetrics(w io.Writer, reg *prometheus.Registry) error {
	mfs, err := reg.Gather()
	if err != nil {
		return err
	}
	for _, mf := range mfs {
		for _, m := range mf.GetMetric() {
			var labels []string
			for _, lp := range m.GetLabel() {
				labels = append(labels, lp.GetName()+"="+lp.GetValue())
			}
			name := mf.GetName()
			if len(labels) > 0 {
				name += "{" + strings.Join(labels, ",") + "}"
			}
			switch {
			case m.GetCounter() != nil:
				fmt.Fprintf(w, "%s %g\n", name, m.GetCounter().GetValue())
			case m.GetGauge() != nil:
				fmt.Fprintf(w, "%s %g\n", name, m.GetGauge().GetValue())
			case m.GetHistogram() != nil:
				fmt.Fprintf(w, "%s_count %d\n", name, m.GetHistogram().GetSampleCount())
			}
		}
	}
	return nil
}
