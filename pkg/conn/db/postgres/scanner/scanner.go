package scanner

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/jackc/pgx/v4"
)

type Queryer interface {
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
}

// Scanner maps result rows into values of T.
//
// T should be a struct. Columns are mapped into
//
//  1. the field with tag `sql:"column_name"`,
//  2. or, the field named as the CamelCase of the column name ("run_id" -> "RunId" or "RunID").
//
// Unmapped columns are errors.
type Scanner[T any] struct {
	byTag  map[string]string
	byName map[string]string
}

func New[T any]() Scanner[T] {
	byTag := map[string]string{}
	byName := map[string]string{}

	t := reflect.TypeOf(*new(T))
	if t.Kind() != reflect.Struct {
		panic(fmt.Sprintf("scanner: %s is not a struct", t))
	}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		byName[strings.ToLower(f.Name)] = f.Name
		if tag, ok := f.Tag.Lookup("sql"); ok {
			byTag[tag] = f.Name
		}
	}
	return Scanner[T]{byTag: byTag, byName: byName}
}

func (s Scanner[T]) field(col string) (string, bool) {
	if f, ok := s.byTag[col]; ok {
		return f, true
	}
	f, ok := s.byName[strings.ToLower(strings.ReplaceAll(col, "_", ""))]
	return f, ok
}

// ScanAll reads all rows and closes them.
func (s Scanner[T]) ScanAll(rows pgx.Rows) ([]T, error) {
	defer rows.Close()

	cols := rows.FieldDescriptions()
	fields := make([]string, len(cols))
	for nth, fd := range cols {
		f, ok := s.field(string(fd.Name))
		if !ok {
			return nil, fmt.Errorf(
				`field for column "%s" is not found in type "%T"`, fd.Name, *new(T),
			)
		}
		fields[nth] = f
	}

	ret := []T{}
	for rows.Next() {
		elem := new(T)
		v := reflect.ValueOf(elem).Elem()
		dest := make([]interface{}, len(fields))
		for nth, f := range fields {
			dest[nth] = v.FieldByName(f).Addr().Interface()
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		ret = append(ret, *elem)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

// QueryAll sends a query and scans all rows of its response.
func (s Scanner[T]) QueryAll(ctx context.Context, conn Queryer, q string, params ...interface{}) ([]T, error) {
	rows, err := conn.Query(ctx, q, params...)
	if err != nil {
		return nil, err
	}
	return s.ScanAll(rows)
}
