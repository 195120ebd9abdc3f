// blockdata fetches a minecraft-data block dataset and converts it into the
// block definition format pkg/blockdef loads. The result drives cisinspect
// and any host that wants a ready-made block universe.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"

	get "github.com/hashicorp/go-getter"

	"github.com/liparakis/chunkis/pkg/blockdef"
)

// upstreamBlock is the minecraft-data blocks.json shape, reduced to the
// fields the conversion needs.
type upstreamBlock struct {
	Name   string          `json:"name"`
	States []upstreamState `json:"states"`
}

type upstreamState struct {
	Name      string   `json:"name"`
	Type      string   `json:"type"` // "enum", "bool" or "int"
	NumValues int      `json:"num_values"`
	Values    []string `json:"values"`
}

func main() {
	var (
		base     = flag.String("base", "https://github.com/PrismarineJS/minecraft-data.git", "base url")
		platform = flag.String("platform", "pc", "platform of the dataset")
		ver      = flag.String("version", "1.21.8", "game version of the dataset")
		out      = flag.String("o", "./blocks.json", "output block definition file")
	)
	flag.Parse()

	if *out == "" || *platform == "" || *ver == "" {
		log.Fatal("output path, platform and version are required")
	}

	tmp, err := os.MkdirTemp("", "blockdata-*")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(tmp)

	// https://github.com/PrismarineJS/minecraft-data/tree/master/data/pc/1.21.8
	url := fmt.Sprintf("git::%s//data/%s/%s", *base, *platform, *ver)
	log.Printf("fetching %s-%s block data", *platform, *ver)
	if err := get.Get(tmp, url); err != nil {
		log.Fatal(err)
	}

	defs, err := convert(filepath.Join(tmp, "blocks.json"))
	if err != nil {
		log.Fatal(err)
	}

	raw, err := json.MarshalIndent(defs, "", "  ")
	if err != nil {
		log.Fatal(err)
	}
	if err := os.WriteFile(*out, raw, 0o644); err != nil {
		log.Fatal(err)
	}
	log.Printf("wrote %d block definitions to %s", len(defs), *out)
}

func convert(path string) ([]blockdef.Definition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read upstream blocks: %w", err)
	}

	var blocks []upstreamBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil, fmt.Errorf("parse upstream blocks: %w", err)
	}

	defs := make([]blockdef.Definition, 0, len(blocks))
	for _, b := range blocks {
		def := blockdef.Definition{
			ID:  "minecraft:" + b.Name,
			Air: isAir(b.Name),
		}
		for _, s := range b.States {
			prop, err := convertState(b.Name, s)
			if err != nil {
				return nil, err
			}
			def.Properties = append(def.Properties, prop)
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func convertState(block string, s upstreamState) (blockdef.PropertyDef, error) {
	var values []string
	switch s.Type {
	case "enum":
		values = s.Values
	case "bool":
		values = []string{"true", "false"}
	case "int":
		values = make([]string, s.NumValues)
		for i := range values {
			values[i] = strconv.Itoa(i)
		}
	default:
		return blockdef.PropertyDef{}, fmt.Errorf("block %s: property %s has unknown type %q", block, s.Name, s.Type)
	}
	if len(values) == 0 {
		return blockdef.PropertyDef{}, fmt.Errorf("block %s: property %s has no values", block, s.Name)
	}
	return blockdef.PropertyDef{Name: s.Name, Values: values}, nil
}

func isAir(name string) bool {
	switch name {
	case "air", "cave_air", "void_air":
		return true
	}
	return false
}
