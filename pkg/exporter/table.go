package exporter

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"villa/pkg/core"
	"villa/pkg/library"
	"villa/pkg/registry"
	"villa/pkg/types"
	"villa/pkg/vault"
)

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
}

// PrintVaults 列出已打开的 Vault，以及打不开的路径和原因
func PrintVaults(w io.Writer, vaults []*vault.Vault, unavailable map[string]error) error {
	tw := newTable(w)
	fmt.Fprintf(tw, "NAME\tENCRYPTED\tSTATE\tOBJECTS\tPATH\n")
	for _, v := range vaults {
		fmt.Fprintf(tw, "%s\t%t\t%s\t%d\t%s\n", v.Name(), v.Encrypted(), v.State(), len(v.Entries()), v.Path())
	}

	paths := make([]string, 0, len(unavailable))
	for p := range unavailable {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		fmt.Fprintf(tw, "-\t-\tunavailable\t-\t%s (%v)\n", p, unavailable[p])
	}
	return tw.Flush()
}

// PrintKeys 列出密钥信息，不包含任何密钥材料
func PrintKeys(w io.Writer, infos []registry.KeyInfo) error {
	tw := newTable(w)
	fmt.Fprintf(tw, "VAULT\tKEY\tCIPHER\tHASH\tSTATUS\n")
	for _, k := range infos {
		status := "unlocked"
		if k.Locked {
			status = "locked"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", k.Vault, k.Name, k.Variant, k.ShortHash, status)
	}
	return tw.Flush()
}

// PrintFiles 列出 Vault 中的文件
func PrintFiles(w io.Writer, files []library.FileSummary) error {
	tw := newTable(w)
	fmt.Fprintf(tw, "ID\tNAME\tTYPE\tBRANCHES\tTAGS\tADDED\n")
	for _, f := range files {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n",
			f.ID.Short(), f.Name, f.FileType, f.Branches, f.Tags,
			time.Unix(f.DateAdded, 0).Format(time.DateTime))
	}
	return tw.Flush()
}

// LogDetails 是 PrintLog 的可选附加信息，缺失的格子打印 "-"
type LogDetails struct {
	Sizes map[types.Hash]int64     // 按 blob 哈希
	Times map[types.Hash]time.Time // 按提交 id
	Tags  map[types.Hash][]string  // 按提交 id
}

// PrintLog 像 git log --oneline 一样打印某个文件的历史，最新的在前
func PrintLog(w io.Writer, fileID types.Hash, history []*core.Commit, details LogDetails) error {
	tw := newTable(w)
	fmt.Fprintf(tw, "COMMIT\tBLOB\tSIZE\tDATE\tMESSAGE\tTAGS\n")
	for _, c := range history {
		e, ok := c.Entry(fileID)
		if !ok {
			return fmt.Errorf("commit %s does not touch file %s", c.ID().Short(), fileID.Short())
		}
		size := "-"
		if s, ok := details.Sizes[e.Blob.Hash]; ok {
			size = fmtSize(s)
		}
		date := "-"
		if ts, ok := details.Times[c.ID()]; ok {
			date = ts.Local().Format(time.DateTime)
		}
		tags := "-"
		if names := details.Tags[c.ID()]; len(names) > 0 {
			tags = strings.Join(names, ",")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", c.ID().Short(), e.Blob.Hash.Short(), size, date, c.Message, tags)
	}
	return tw.Flush()
}
