// Copyright 2024 Ampere Computing LLC. All rights reserved.
// Use of this source code is governed by a BSD-3-Clause license that can be
// found in the LICENSE file.

// nvparm is an engineering tool running on the BMC Linux console. It edits
// NVPARAM fields of the Validation and Dynamic NVPARAM partitions on the
// Host SPI NOR flash, and of the Boot-Strap Data EEPROM.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/AmpereComputing/NVP-Management-Tool/internal/guid"
	"github.com/AmpereComputing/NVP-Management-Tool/internal/nvp"
	"github.com/AmpereComputing/NVP-Management-Tool/internal/nvpconfig"
	"github.com/AmpereComputing/NVP-Management-Tool/internal/nvpdev"
	"github.com/AmpereComputing/NVP-Management-Tool/internal/nvplog"
)

const (
	versionMajor = 1
	versionMinor = 3
	versionPatch = 0
)

// device selects which substrate a request targets, mirroring nvparm_ctrl_t's
// SPINOR/EEPROM enum.
type device int

const (
	deviceUnset device = iota
	deviceSPINOR
	deviceEEPROM
)

// ErrUsage is returned for any command-line validation failure: missing or
// conflicting options, out-of-range values, and the like.
var ErrUsage = errors.New("nvparm: usage error")

// options mirrors nvparm_ctrl_t: every flag the user actually supplied,
// plus its parsed value.
type options struct {
	part    string
	partSet bool
	guidStr string
	guidSet bool

	nvpFile    string
	fileSet    bool
	fieldIndex uint32
	indexSet   bool

	read  bool
	erase bool

	writeData  uint64
	writeSet   bool
	validBit   int
	validSet   bool

	dumpFile string
	dumpSet  bool

	uploadFile string
	uploadSet  bool

	i2cBus    int
	i2cBusSet bool
	slaveAddr uint8
	slaveSet  bool

	showGPT bool
	help    bool
	version bool

	mtdDevice string
	mtdSet    bool

	configPath string

	dev device
}

func usage() {
	nvplog.Normal("nvparm version: %d.%d.%d\n", versionMajor, versionMinor, versionPatch)
	nvplog.Normal(`Usage: nvparm <args>

Arguments:
  -t <nvp_part>    : Partition name of Dynamic NVPARAM or Validation NVPARAM or Static NVPARAM.
  -u <nvp_guid>    : Partition's GUID from the GPT header.
                     Specially, 0 is fixed for Boot Strap Data partition.
  -f <nvp_file>    : Name of NVP file (without file extension).
                     Specially, NVPBERLY is the fixed nvp file for Boot Strap Data partition.
  -i <field_index> : Index of the target field in nvp file, start from 0.
  -r               : Read a field and its associated valid bit.
  -v <valid_bit>   : Enable or disable valid bit.
  -w <nvp_data>    : Write data to a field and its associated valid bit.
  -e               : Erase field at field_index.
  -d <raw_file>    : Dump specific NVP file into raw file.
  -o <new_nvp_file>: New NVP file.
  -b <i2c_bus>     : The I2C bus number. Default is 1 (I2C1).
  -s <target_addr> : The target address of the EEPROM. Default is 0x50.
  -p               : Print GPT header. NVP partition names and GUIDs will be displayed.
  -V               : Show version information.
  -D <device>      : The MTD partition path
  -h               : Print this help.
`)
}

func parseFlags(args []string) (*options, error) {
	o := &options{}

	fs := flag.NewFlagSet("nvparm", flag.ContinueOnError)
	fs.Usage = usage

	part := fs.String("t", "", "")
	guidArg := fs.String("u", "", "")
	file := fs.String("f", "", "")
	index := fs.String("i", "", "")
	read := fs.Bool("r", false, "")
	erase := fs.Bool("e", false, "")
	write := fs.String("w", "", "")
	valid := fs.String("v", "", "")
	dump := fs.String("d", "", "")
	upload := fs.String("o", "", "")
	bus := fs.String("b", "", "")
	slave := fs.String("s", "", "")
	showGPT := fs.Bool("p", false, "")
	help := fs.Bool("h", false, "")
	version := fs.Bool("V", false, "")
	mtdDev := fs.String("D", "", "")
	cfg := fs.String("config", "", "")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUsage, err)
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "t":
			o.part, o.partSet = *part, true
		case "u":
			o.guidStr, o.guidSet = *guidArg, true
		case "f":
			o.nvpFile, o.fileSet = *file, true
		case "i":
			o.indexSet = true
		case "r":
			o.read = *read
		case "e":
			o.erase = *erase
		case "w":
			o.writeSet = true
		case "v":
			o.validSet = true
		case "d":
			o.dumpFile, o.dumpSet = *dump, true
		case "o":
			o.uploadFile, o.uploadSet = *upload, true
		case "b":
			o.i2cBusSet = true
		case "s":
			o.slaveSet = true
		case "p":
			o.showGPT = *showGPT
		case "h":
			o.help = *help
		case "V":
			o.version = *version
		case "D":
			o.mtdDevice, o.mtdSet = *mtdDev, true
		case "config":
			o.configPath = *cfg
		}
	})

	if o.indexSet {
		n, err := strconv.ParseUint(*index, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid -i value %q", ErrUsage, *index)
		}
		o.fieldIndex = uint32(n)
	}
	if o.writeSet {
		n, err := strconv.ParseUint(*write, 16, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid -w value %q", ErrUsage, *write)
		}
		o.writeData = n
	}
	if o.validSet {
		n, err := strconv.ParseUint(*valid, 16, 8)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid -v value %q", ErrUsage, *valid)
		}
		o.validBit = int(n)
	}
	if o.i2cBusSet {
		n, err := strconv.Atoi(*bus)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid -b value %q", ErrUsage, *bus)
		}
		o.i2cBus = n
	}
	if o.slaveSet {
		n, err := strconv.ParseUint(*slave, 16, 8)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid -s value %q", ErrUsage, *slave)
		}
		o.slaveAddr = uint8(n)
	}

	if o.partSet && o.part == nvpdev.BSDPartitionName {
		o.dev = deviceEEPROM
	}
	if o.guidSet {
		if o.guidStr == "0" {
			o.dev = deviceEEPROM
		} else if _, err := guid.StringToBytes(o.guidStr); err != nil {
			return nil, fmt.Errorf("%w: invalid GUID %q", ErrUsage, o.guidStr)
		} else if o.dev == deviceUnset {
			o.dev = deviceSPINOR
		}
	}
	if o.partSet && o.dev == deviceUnset {
		o.dev = deviceSPINOR
	}

	return o, nil
}

// verifyOpt ports verify_opt's mutual-exclusion matrix: -p/-h/-V stand
// alone; otherwise exactly one of -t/-u selects the target, and the
// SPINOR/EEPROM device modes each have their own set of mutually exclusive
// action flags (write and valid-bit may always be combined).
func verifyOpt(o *options) error {
	if o.showGPT || o.help || o.version {
		if o.partSet || o.guidSet || o.fileSet || o.indexSet || o.read ||
			o.erase || o.writeSet || o.validSet || o.i2cBusSet || o.slaveSet ||
			o.dumpSet || o.uploadSet {
			return fmt.Errorf("%w: -p, -h or -V can't be mixed with other options", ErrUsage)
		}
		exclusiveCount := 0
		for _, set := range []bool{o.showGPT, o.help, o.version} {
			if set {
				exclusiveCount++
			}
		}
		if exclusiveCount > 1 {
			return fmt.Errorf("%w: -p, -h and -V can't be mixed together", ErrUsage)
		}
		if (o.help || o.version) && o.mtdSet {
			return fmt.Errorf("%w: -h or -V can't be mixed with -D", ErrUsage)
		}
		return nil
	}

	if !o.partSet && !o.guidSet {
		return fmt.Errorf("%w: -t or -u must be specified", ErrUsage)
	}
	if o.partSet && o.guidSet {
		return fmt.Errorf("%w: -t and -u can't be mixed together", ErrUsage)
	}

	actions := []bool{o.read, o.erase, o.writeSet, o.validSet, o.dumpSet}

	switch o.dev {
	case deviceSPINOR:
		allActions := append(append([]bool{}, actions...), o.showGPT, o.uploadSet)
		if !anyTrue(allActions) {
			return fmt.Errorf("%w: must select one of: -r, -e, -w, -v, -d, -p, -o", ErrUsage)
		}
		if moreThanOneExclusiveAction(o) {
			return fmt.Errorf("%w: -r, -e, -w/-v, -d, -p, -o can't be mixed together (except -w and -v)", ErrUsage)
		}
		if !o.fileSet || !o.indexSet {
			return fmt.Errorf("%w: -f and -i must be specified", ErrUsage)
		}

	case deviceEEPROM:
		allActions := append(append([]bool{}, actions...), o.uploadSet)
		if !anyTrue(allActions) {
			return fmt.Errorf("%w: must select one of: -r, -e, -w, -v, -d, -o", ErrUsage)
		}
		if moreThanOneExclusiveAction(o) {
			return fmt.Errorf("%w: -r, -e, -w/-v, -d, -o can't be mixed together (except -w and -v)", ErrUsage)
		}
		if o.mtdSet {
			return fmt.Errorf("%w: can't use -D option for the Boot-Strap Data EEPROM", ErrUsage)
		}
		if !o.dumpSet && !o.uploadSet && !o.indexSet {
			return fmt.Errorf("%w: -i must be specified", ErrUsage)
		}

	default:
		return fmt.Errorf("%w: unsupported device", ErrUsage)
	}

	return nil
}

func anyTrue(bs []bool) bool {
	for _, b := range bs {
		if b {
			return true
		}
	}
	return false
}

// moreThanOneExclusiveAction reports whether more than one of the
// mutually-exclusive action groups {-r}, {-e}, {-w,-v}, {-d}, {-p}, {-o} is
// set; -w and -v together count as one group.
func moreThanOneExclusiveAction(o *options) bool {
	groups := 0
	if o.read {
		groups++
	}
	if o.erase {
		groups++
	}
	if o.writeSet || o.validSet {
		groups++
	}
	if o.dumpSet {
		groups++
	}
	if o.showGPT {
		groups++
	}
	if o.uploadSet {
		groups++
	}
	return groups > 1
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) < 1 {
		nvplog.Error("At least 1 argument is required")
		usage()
		return 1
	}

	o, err := parseFlags(args)
	if err != nil {
		nvplog.Error("%v", err)
		return 1
	}

	if err := verifyOpt(o); err != nil {
		nvplog.Error("%v", err)
		return 1
	}

	if o.version {
		nvplog.Normal("nvparm version: %d.%d.%d", versionMajor, versionMinor, versionPatch)
		return 0
	}
	if o.help {
		usage()
		return 0
	}

	cfg, err := nvpconfig.Load(o.configPath)
	if err != nil {
		nvplog.Error("%v", err)
		return 1
	}
	applyConfigDefaults(o, cfg)

	if o.dev == deviceSPINOR || o.showGPT {
		return runSPINOR(o)
	}
	return runEEPROM(o)
}

func applyConfigDefaults(o *options, cfg nvpconfig.Defaults) {
	if o.partSet {
		o.part = cfg.ResolvePartition(o.part)
	}
	if !o.i2cBusSet && cfg.I2CBus != nil {
		o.i2cBus = int(*cfg.I2CBus)
	}
	if !o.slaveSet && cfg.SlaveAddr != nil {
		o.slaveAddr = *cfg.SlaveAddr
	}
	if !o.mtdSet && cfg.MTDDevice != "" {
		o.mtdDevice = cfg.MTDDevice
	}
}

func runSPINOR(o *options) int {
	path, err := nvpdev.FindHostMTDPartition(o.mtdDevice)
	if err != nil {
		nvplog.Error("%v", err)
		return 1
	}

	d, err := nvpdev.NewSPINORDispatcher(path)
	if err != nil {
		nvplog.Error("%v", err)
		return 1
	}
	defer d.Close()

	if o.showGPT {
		d.ShowGPT()
		return 0
	}

	rec, store, err := d.OpenRecord(o.part, o.guidStr, o.nvpFile)
	if err != nil {
		nvplog.Error("%v", err)
		return 1
	}

	if o.dumpSet {
		if err := nvpdev.Dump(store, o.dumpFile); err != nil {
			nvplog.Error("%v", err)
			return 1
		}
		return 0
	}
	if o.uploadSet {
		if err := nvpdev.Upload(store, o.uploadFile); err != nil {
			nvplog.Error("%v", err)
			return 1
		}
		return 0
	}

	if err := operateField(o, rec); err != nil {
		nvplog.Error("%v", err)
		return 1
	}
	return 0
}

func runEEPROM(o *options) int {
	bus := o.i2cBus
	if !o.i2cBusSet && bus == 0 {
		bus = nvpdev.DefaultI2CBus
	}
	slave := o.slaveAddr
	if !o.slaveSet && slave == 0 {
		slave = nvpdev.DefaultI2CEEPROMAddr
	}

	d, err := nvpdev.OpenBSDDispatcher(bus, slave)
	if err != nil {
		nvplog.Error("%v", err)
		return 1
	}
	defer d.Close()

	rec, err := d.OpenRecord()
	if err != nil {
		nvplog.Error("%v", err)
		return 1
	}

	if o.dumpSet {
		if err := d.Dump(rec, o.dumpFile); err != nil {
			nvplog.Error("%v", err)
			return 1
		}
		return 0
	}
	if o.uploadSet {
		if err := d.Upload(o.uploadFile); err != nil {
			nvplog.Error("%v", err)
			return 1
		}
		return 0
	}

	if err := operateField(o, rec); err != nil {
		nvplog.Error("%v", err)
		return 1
	}
	return 0
}

func operateField(o *options, rec *nvp.Record) error {
	explicit := -1
	if o.validSet {
		explicit = o.validBit
	}

	switch {
	case o.read:
		return nvpdev.OperateField(rec, nvpdev.FieldOpRead, o.fieldIndex, 0, explicit)
	case o.writeSet:
		return nvpdev.OperateField(rec, nvpdev.FieldOpWrite, o.fieldIndex, o.writeData, explicit)
	case o.validSet:
		return nvpdev.OperateField(rec, nvpdev.FieldOpSetValid, o.fieldIndex, 0, explicit)
	case o.erase:
		return nvpdev.OperateField(rec, nvpdev.FieldOpErase, o.fieldIndex, 0, explicit)
	default:
		return fmt.Errorf("%w: no field operation selected", ErrUsage)
	}
}
