/**
 * Licensed to the Apache Software Foundation (ASF) under one
 * or more contributor license agreements.  See the NOTICE file
 * distributed with this work for additional information
 * regarding copyright ownership.  The ASF licenses this file
 * to you under the Apache License, Version 2.0 (the
 * "License"); you may not use this file except in compliance
 * with the License.  You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing,
 * software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
 * KIND, either express or implied.  See the License for the
 * specific language governing permissions and limitations
 * under the License.
 */

package inspect

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/georgik/esp32-image-composer/artifact/espimage"
	"github.com/georgik/esp32-image-composer/util"
)

func (cs *ChecksumStatus) Map() map[string]interface{} {
	if cs.Err != "" {
		return map[string]interface{}{
			"error": cs.Err,
		}
	}

	return map[string]interface{}{
		"stored":     fmt.Sprintf("0x%02x", cs.Stored),
		"calculated": fmt.Sprintf("0x%02x", cs.Calculated),
		"valid":      cs.Valid,
	}
}

func (r *ImageRegion) Map() map[string]interface{} {
	m := map[string]interface{}{
		"name":   r.Name,
		"offset": fmt.Sprintf("0x%x", r.Offset),
		"found":  r.Found,
	}
	if !r.Found {
		return m
	}

	m["size"] = r.Size
	m["magic"] = fmt.Sprintf("0x%02x", r.Magic)
	m["interpreted"] = r.Interpreted
	if r.Header != nil {
		m["header"] = r.Header.Map(r.Offset)
	}
	if r.Checksum != nil {
		m["checksum"] = r.Checksum.Map()
	}

	return m
}

func (tr *TableRegion) Map() map[string]interface{} {
	m := map[string]interface{}{
		"offset": fmt.Sprintf("0x%x", tr.Offset),
		"found":  tr.Found,
	}
	if !tr.Found {
		return m
	}

	m["count"] = tr.Count
	m["names"] = tr.Names
	m["md5_valid"] = tr.MD5Valid
	m["entries"] = tr.Table.Map()
	if tr.DecodeErr != "" {
		m["decode_error"] = tr.DecodeErr
	}

	return m
}

func (rep *Report) Map() map[string]interface{} {
	m := map[string]interface{}{
		"size":            rep.Size,
		"layout":          rep.Layout,
		"bootloader":      rep.Bootloader.Map(),
		"partition_table": rep.PartitionTable.Map(),
		"factory":         rep.Factory.Map(),
	}

	if rep.OtaSource != "" {
		otas := []map[string]interface{}{}
		for i := range rep.Ota {
			otas = append(otas, rep.Ota[i].Map())
		}
		m["ota"] = otas
		m["ota_source"] = rep.OtaSource
	}

	if rep.Usage != nil {
		m["usage"] = map[string]interface{}{
			"used_bytes":       rep.Usage.Used,
			"percent":          rep.Usage.Percent,
			"last_used_offset": fmt.Sprintf("0x%x", rep.Usage.Used),
		}
	}

	return m
}

func (rep *Report) Json() (string, error) {
	b, err := json.MarshalIndent(rep.Map(), "", "    ")
	if err != nil {
		return "", util.ChildComposerError(err)
	}

	return string(b), nil
}

func writeChecksum(b *bytes.Buffer, cs *ChecksumStatus) {
	if cs == nil {
		return
	}

	if cs.Err != "" {
		fmt.Fprintf(b, "    Checksum: unable to verify (%s)\n", cs.Err)
		return
	}

	if cs.Valid {
		fmt.Fprintf(b, "    Checksum: 0x%02x (valid)\n", cs.Stored)
	} else {
		fmt.Fprintf(b, "    Checksum: 0x%02x (INVALID)\n", cs.Stored)
		fmt.Fprintf(b, "    Calculated: 0x%02x\n", cs.Calculated)
	}
}

func writeImageRegion(b *bytes.Buffer, title string, r *ImageRegion) {
	fmt.Fprintf(b, "%s (offset 0x%x):\n", title, r.Offset)

	if !r.Found {
		b.WriteString("    Not found\n")
		return
	}

	fmt.Fprintf(b, "    Size: %s\n", util.FormatSize(r.Size))

	if r.Magic == espimage.IMAGE_MAGIC {
		fmt.Fprintf(b, "    Magic: 0x%02x (valid)\n", r.Magic)
	} else {
		fmt.Fprintf(b, "    Magic: 0x%02x (invalid)\n", r.Magic)
	}

	if r.Header != nil {
		fmt.Fprintf(b, "    Segments: %d\n", len(r.Header.Segments))
		fmt.Fprintf(b, "    Entry: 0x%08x\n", r.Header.EntryAddr)
		fmt.Fprintf(b, "    SPI mode: %s\n",
			espimage.SpiModeName(r.Header.SpiMode))
		if r.Header.Truncated {
			b.WriteString("    Segment table truncated\n")
		}
	}

	writeChecksum(b, r.Checksum)
}

func writeTableRegion(b *bytes.Buffer, tr *TableRegion) {
	fmt.Fprintf(b, "Partition table (offset 0x%x):\n", tr.Offset)

	if !tr.Found {
		b.WriteString("    Not found\n")
		return
	}

	fmt.Fprintf(b, "    Size: %s\n", util.FormatSize(tr.Size))
	fmt.Fprintf(b, "    Magic: 0x%02x%02x\n", tr.Magic[0], tr.Magic[1])
	for i, name := range tr.Names {
		fmt.Fprintf(b, "      Partition %d: %s\n", i+1, name)
	}
	fmt.Fprintf(b, "    Total partitions: %d\n", tr.Count)

	if tr.MD5Valid {
		b.WriteString("    MD5: valid\n")
	} else {
		fmt.Fprintf(b, "    MD5: %s\n", tr.DecodeErr)
	}
}

func regionTitle(name string) string {
	if name == "" {
		return "(unnamed)"
	}
	return strings.ToUpper(name[:1]) + name[1:]
}

// WriteText renders the report in human-readable form.
func (rep *Report) WriteText(w io.Writer) error {
	b := &bytes.Buffer{}

	fmt.Fprintf(b, "Image size: %s (0x%x bytes)\n",
		util.FormatSize(rep.Size), rep.Size)
	fmt.Fprintf(b, "Layout: %s\n\n", rep.Layout)

	writeImageRegion(b, "Bootloader", &rep.Bootloader)
	b.WriteString("\n")
	writeTableRegion(b, &rep.PartitionTable)
	b.WriteString("\n")
	writeImageRegion(b, "Factory app", &rep.Factory)

	if rep.OtaSource != "" {
		fmt.Fprintf(b, "\nOTA partitions (%s):\n", rep.OtaSource)
		if len(rep.Ota) == 0 {
			b.WriteString("    None found\n")
		}
		for i := range rep.Ota {
			r := &rep.Ota[i]
			writeImageRegion(b, regionTitle(r.Name), r)
		}
	}

	if rep.Usage != nil {
		b.WriteString("\nMemory usage:\n")
		if rep.Usage.Used > 0 {
			fmt.Fprintf(b, "    Used bytes: %s (%.1f%%)\n",
				util.FormatSize(rep.Usage.Used), rep.Usage.Percent)
			fmt.Fprintf(b, "    Last used offset: 0x%x\n", rep.Usage.Used)
		} else {
			b.WriteString("    Used bytes: unable to determine\n")
		}
	}

	if _, err := w.Write(b.Bytes()); err != nil {
		return util.ChildComposerError(err)
	}

	return nil
}
