package fat

import (
	"os"
	"reflect"
	"testing"
	"time"
)

func TestEntry_FileInfo(t *testing.T) {
	entry := Entry{
		Name:      [11]byte{'H', 'E', 'L', 'L', 'O', ' ', ' ', ' ', 'T', 'X', 'T'},
		Attr:      AttrDirectory,
		Size:      9,
		Cluster:   0x50008,
		WriteTime: 6,
		WriteDate: 7,
		dirSector: 100,
		dirIndex:  3,
	}
	want := entryFileInfo{entry: entry}
	if got := entry.FileInfo(); !reflect.DeepEqual(got, want) {
		t.Errorf("Entry.FileInfo() = %v, want %v", got, want)
	}
}

func TestEntry_ShortName(t *testing.T) {
	tests := []struct {
		name  string
		entry Entry
		want  string
	}{
		{
			name:  "8.3 filename",
			entry: Entry{Name: [11]byte{'H', 'E', 'L', 'L', 'O', ' ', ' ', ' ', 'T', 'X', 'T'}},
			want:  "HELLO.TXT",
		},
		{
			name:  "short extension",
			entry: Entry{Name: [11]byte{'H', 'E', 'L', 'L', 'O', ' ', ' ', ' ', 'T', 'X', ' '}},
			want:  "HELLO.TX",
		},
		{
			name:  "no extension",
			entry: Entry{Name: [11]byte{'H', 'E', 'L', 'L', 'O', ' ', ' ', ' ', ' ', ' ', ' '}},
			want:  "HELLO",
		},
		{
			name:  "full length",
			entry: Entry{Name: [11]byte{'K', 'E', 'R', 'N', 'E', 'L', '0', '1', 'I', 'M', 'G'}},
			want:  "KERNEL01.IMG",
		},
		{
			name:  "escaped first byte",
			entry: Entry{Name: [11]byte{0x05, 'A', 'B', ' ', ' ', ' ', ' ', ' ', 'B', 'I', 'N'}},
			want:  "\xe5AB.BIN",
		},
		{
			name:  "dot entry",
			entry: Entry{Name: [11]byte{'.', '.', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' '}},
			want:  "..",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.entry.ShortName(); got != tt.want {
				t.Errorf("Entry.ShortName() = %q, want %q", got, tt.want)
			}
			if got := tt.entry.FileInfo().Name(); got != tt.want {
				t.Errorf("entryFileInfo.Name() = %q, want %q", got, tt.want)
			}
		})
	}
}

func Test_entryFileInfo_Size(t *testing.T) {
	tests := []struct {
		name  string
		entry Entry
		want  int64
	}{
		{name: "empty", entry: Entry{}, want: 0},
		{name: "largest file", entry: Entry{Size: 0xFFFFFFFF}, want: 0xFFFFFFFF},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := (entryFileInfo{entry: tt.entry}).Size(); got != tt.want {
				t.Errorf("entryFileInfo.Size() = %v, want %v", got, tt.want)
			}
		})
	}
}

func Test_entryFileInfo_Mode(t *testing.T) {
	tests := []struct {
		name string
		attr byte
		want os.FileMode
	}{
		{name: "file", attr: AttrArchive, want: 0o644},
		{name: "read only file", attr: AttrReadOnly | AttrHidden, want: 0o444},
		{name: "directory", attr: AttrDirectory, want: os.ModeDir | 0o555},
		{name: "read only directory", attr: AttrDirectory | AttrReadOnly, want: os.ModeDir | 0o555},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := (entryFileInfo{entry: Entry{Attr: tt.attr}}).Mode(); got != tt.want {
				t.Errorf("entryFileInfo.Mode() = %v, want %v", got, tt.want)
			}
		})
	}
}

func Test_entryFileInfo_ModTime(t *testing.T) {
	tests := []struct {
		name      string
		writeTime uint16
		writeDate uint16
		want      time.Time
	}{
		{
			name:      "a normal write time and date",
			writeTime: 41936,
			writeDate: 20890,
			want:      time.Date(2020, 12, 26, 20, 30, 32, 0, time.UTC),
		},
		{
			name: "a zero write time and date results in time.Time.IsZero() == true",
			want: time.Time{},
		},
		{
			name:      "a zero write time results in 00:00:00",
			writeDate: 20890,
			want:      time.Date(2020, 12, 26, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "a zero write date results in time.Time.IsZero() == true",
			writeTime: 41936,
			want:      time.Time{},
		},
		{
			name:      "a zero write day results in time.Time.IsZero() == true",
			writeTime: 41936,
			writeDate: 20928,
			want:      time.Time{},
		},
		{
			name:      "a zero write month results in time.Time.IsZero() == true",
			writeTime: 41936,
			writeDate: 20506,
			want:      time.Time{},
		},
		{
			name:      "a month > 12 increases the year",
			writeTime: 41936,
			writeDate: 20922,
			want:      time.Date(2021, 1, 26, 20, 30, 32, 0, time.UTC),
		},
		{
			name:      "a second > 59 increases the minutes",
			writeTime: 41951,
			writeDate: 20890,
			want:      time.Date(2020, 12, 26, 20, 31, 2, 0, time.UTC),
		},
		{
			name:      "a minute > 59 increases the hours",
			writeTime: 42992,
			writeDate: 20890,
			want:      time.Date(2020, 12, 26, 21, 3, 32, 0, time.UTC),
		},
		{
			name:      "a time > 23:59:59 gets limited to 23:59:59",
			writeTime: 51199,
			writeDate: 20890,
			want:      time.Date(2020, 12, 26, 23, 59, 59, 0, time.UTC),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := entryFileInfo{
				entry: Entry{WriteTime: tt.writeTime, WriteDate: tt.writeDate},
			}
			if got := e.ModTime(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("entryFileInfo.ModTime() = %v, want %v", got, tt.want)
			}
			if got := e.ModTime().IsZero(); got != tt.want.IsZero() {
				t.Errorf("entryFileInfo.ModTime().IsZero() = %v, want.IsZero() %v", got, tt.want.IsZero())
			}
		})
	}
}

func Test_entryFileInfo_IsDir(t *testing.T) {
	tests := []struct {
		name string
		attr byte
		want bool
	}{
		{name: "No directory", attr: 0, want: false},
		{name: "Directory", attr: AttrDirectory, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := entryFileInfo{entry: Entry{Attr: tt.attr}}
			if got := e.IsDir(); got != tt.want {
				t.Errorf("entryFileInfo.IsDir() = %v, want %v", got, tt.want)
			}
		})
	}
}

func Test_entryFileInfo_Sys(t *testing.T) {
	entry := Entry{Name: [11]byte{'H', 'E', 'L', 'L', 'O', ' ', ' ', ' ', 'T', 'X', 'T'}, Size: 3}
	if got := (entryFileInfo{entry: entry}).Sys(); !reflect.DeepEqual(got, entry) {
		t.Errorf("entryFileInfo.Sys() = %v, want %v", got, entry)
	}
}

func Test_rootFileInfo(t *testing.T) {
	info := rootFileInfo{}
	if info.Name() != "/" || !info.IsDir() || info.Mode() != os.ModeDir|0o555 || info.Size() != 0 {
		t.Errorf("rootFileInfo = %v %v %v %v", info.Name(), info.IsDir(), info.Mode(), info.Size())
	}
}
