package exporter

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"villa/pkg/core"
	"villa/pkg/types"
)

// PrintStructure 解析并打印结构化记录 (File/Commit/Branch/Tag)
// 如果是普通内容，返回 false，由调用者决定如何展示
func PrintStructure(data []byte, w io.Writer) (bool, error) {
	// 1. 尝试探测类型；连 CBOR 头都解不出来就是原始内容
	typ, err := core.PeekType(data)
	if err != nil {
		return false, nil
	}

	// 2. 分发打印
	switch typ {
	case core.TypeFile:
		return true, printFile(data, w)
	case core.TypeCommit:
		return true, printCommit(data, w)
	case core.TypeBranch:
		return true, printBranch(data, w)
	case core.TypeTag:
		return true, printTag(data, w)
	default:
		// 未知类型，或者可能是巧合的二进制数据
		return false, nil
	}
}

func printFile(data []byte, w io.Writer) error {
	var f core.File
	if err := core.DecodeObject(data, &f); err != nil {
		return err
	}
	fmt.Fprintf(w, "Type:    File\n")
	fmt.Fprintf(w, "Record:  %s\n", types.BlobHash(data))
	fmt.Fprintf(w, "ID:      %s\n", f.FileID)
	fmt.Fprintf(w, "Name:    %s\n", f.Name)
	fmt.Fprintf(w, "Kind:    %s\n", f.FileType)
	fmt.Fprintf(w, "Added:   %s\n", time.Unix(f.DateAdded, 0).Format(time.RFC3339))

	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintf(tw, "\nREF\tNAME\tCOMMIT\n")
	for _, b := range f.Branches {
		fmt.Fprintf(tw, "branch\t%s\t%s\n", b.Name, b.Head.Hash.Short())
	}
	for _, t := range f.Tags {
		fmt.Fprintf(tw, "tag\t%s\t%s\n", t.Name, t.Commit.Hash.Short())
	}
	return tw.Flush()
}

func printCommit(data []byte, w io.Writer) error {
	var c core.Commit
	if err := core.DecodeObject(data, &c); err != nil {
		return err
	}
	fmt.Fprintf(w, "Type:    Commit\n")
	fmt.Fprintf(w, "Hash:    %s\n", types.BlobHash(data))
	fmt.Fprintf(w, "\n%s\n\n", c.Message)

	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintf(tw, "FILE\tPARENT\tBLOB\n")
	for _, e := range c.Entries {
		parent := "-"
		if p, ok := e.ParentID(); ok {
			parent = p.Short()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", e.FileID.Short(), parent, e.Blob.Hash.Short())
	}
	return tw.Flush()
}

func printBranch(data []byte, w io.Writer) error {
	var b core.Branch
	if err := core.DecodeObject(data, &b); err != nil {
		return err
	}
	fmt.Fprintf(w, "Type:    Branch\n")
	fmt.Fprintf(w, "Name:    %s\n", b.Name)
	fmt.Fprintf(w, "File:    %s\n", b.FileID)
	fmt.Fprintf(w, "Head:    %s\n", b.Head.Hash)
	return nil
}

func printTag(data []byte, w io.Writer) error {
	var t core.Tag
	if err := core.DecodeObject(data, &t); err != nil {
		return err
	}
	fmt.Fprintf(w, "Type:    Tag\n")
	fmt.Fprintf(w, "Name:    %s\n", t.Name)
	fmt.Fprintf(w, "Commit:  %s\n", t.Commit.Hash)
	return nil
}

func fmtSize(s int64) string {
	if s < 1024 {
		return fmt.Sprintf("%dB", s)
	} else if s < 1024*1024 {
		return fmt.Sprintf("%.1fKB", float64(s)/1024)
	}
	return fmt.Sprintf("%.2fMB", float64(s)/1024/1024)
}
