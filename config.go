// CLP - Compressed Log Processor
// Copyright (C) 2024 CLP Authors

// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.

// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.

// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package clp

import (
	"encoding/base64"
	"encoding/csv"
	"log"
	"os"
	"os/user"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/viper"
)

/*
	Configurable options for the archive writer go here.
	Everything else is derived per-archive via UserConfig.

	From the [clp] section of the configuration file the driver loads
	into viper (cmd/clp-archive reads ./testdata/clp.conf).
*/

const (
	target_segment_size_lower = 1 * 1024 * 1024        // 1MB
	target_segment_size_upper = 2 * 1024 * 1024 * 1024 // 2GB
	compression_level_lower   = 1
	compression_level_upper   = 9
)

type Config struct {
	user                   string
	uid                    uint32
	group                  string
	gid                    uint32
	datastore_dir          string
	encryption_keystore    string            // optional, empty disables encryption
	aes_keystore_array     map[string][]byte // read from encryption_keystore
	aes_keystore_cur_uuid  string            // most recently added uuid is the active key
	target_segment_size    uint32
	compression_level      uint32
}

var config Config

func ConfigureVariables() int {
	var errors int

	errors += config_parse_string(&config.user, "clp.user")
	errors += config_parse_string(&config.group, "clp.group")

	errors += config_parse_dirname(&config.datastore_dir, "clp.datastore_dir")

	errors += config_parse_size(&config.target_segment_size, "clp.target_segment_size", target_segment_size_lower, target_segment_size_upper)
	errors += config_parse_int(&config.compression_level, "clp.compression_level", compression_level_lower, compression_level_upper)

	// Encryption keystore is optional: a missing/empty entry just disables encryption.
	if path := viper.GetString("clp.encryption_keystore"); path != "" {
		config.encryption_keystore = path
	}

	return errors
}

func ValidateConfiguration() int {
	var errors int

	errors += checkSystemUserGroup()
	errors += checkFileUserGroupAttributes(config.datastore_dir)

	if config.encryption_keystore != "" {
		errors += checkFileUserGroupAttributes(config.encryption_keystore)
		errors += ConfigureEncryptionKeystore()
	}

	return errors
}

// Read-only views of the loaded configuration for drivers in cmd/.

func ConfiguredDatastoreDir() string { return config.datastore_dir }

func ConfiguredTargetSegmentSize() uint32 { return config.target_segment_size }

func ConfiguredCompressionLevel() uint32 { return config.compression_level }

// EncryptionEnabled reports whether a keystore was configured and loaded,
// i.e. whether new archives should seal their sections.
func EncryptionEnabled() bool { return config.aes_keystore_cur_uuid != "" }

func checkSystemUserGroup() int {
	var errors int

	// Check user and group configuration relative to what's on the system

	// Look up configured user or uid
	config_user, err := user.Lookup(config.user)
	if err != nil {
		// Can't find username - we check it this way, because a username could be all digits :)
		config_user, err = user.LookupId(config.user)
		if err != nil {
			// Not found as numeric either
			log.Printf("Configured user (%s) does not exist on system", config.user)
			errors++
		}
	}

	// Look up configured group or gid
	config_group, err := user.LookupGroup(config.group)
	if err != nil {
		// Can't find groupname - we check it this way, because a groupname could be all digits :)
		config_group, err = user.LookupGroupId(config.group)
		if err != nil {
			// Not found as numeric either
			log.Printf("Configured group (%s) does not exist on system", config.group)
			errors++
		}
	}

	if errors > 0 {
		return errors // return early
	}

	config.user = config_user.Username
	i, _ := strconv.Atoi(config_user.Uid)
	config.uid = uint32(i)

	config.group = config_group.Name
	i, _ = strconv.Atoi(config_group.Gid)
	config.gid = uint32(i)

	// Now check current user is same as configured user
	current_user, _ := user.Current()
	if current_user.Username != config.user {
		log.Printf("Current user (%s) not same as configured user (%s)",
			current_user.Uid, config.user)
		errors++
	}

	// Check that current group is same as configured group as well
	i, _ = strconv.Atoi(current_user.Gid)
	gid := uint32(i)
	if gid != config.gid {
		log.Printf("Current primary group ID (%d) not same as configured group ID (%d)",
			gid, config.gid)
		errors++
	}

	return errors
}

func checkFileUserGroupAttributes(path string) int {
	var errors int

	st, err := os.Stat(path)
	if err != nil {
		log.Printf("'%s': %s", path, err)
		return 1
	}

	if config.uid != st.Sys().(*syscall.Stat_t).Uid {
		log.Printf("'%s' is not owned by current user (%s)", path, config.user)
		errors++
	}

	if config.gid != st.Sys().(*syscall.Stat_t).Gid {
		log.Printf("'%s' is not owned by primary group (%s)", path, config.group)
		errors++
	}

	var perm_allowed uint32

	if st.IsDir() {
		perm_allowed = 0770
	} else {
		perm_allowed = 0660
	}

	file_perm := uint32(st.Mode().Perm())
	if (file_perm & 0007) != 0 { // If any "others" are allowed, we object.
		log.Printf("Permissions for '%s' are %04o (allowed: %04o)", path, file_perm, perm_allowed)
		errors++
	}

	return errors
}

func config_parse_string(s *string, key string) int {
	if str := viper.GetString(key); str != "" {
		*s = str
	} else {
		log.Printf("Configuration entry for '%s' missing or empty", key)
		return 1
	}

	return 0 // 0 = success
}

func config_parse_dirname(v *string, key string) int {
	if dirpath := viper.GetString(key); dirpath != "" {
		if *v != "" {
			log.Printf("Cannot change path for '%s' from '%s' to '%s' while running", key, *v, dirpath)
			return 1
		}

		*v = dirpath
	} else {
		log.Printf("Configuration entry for '%s' missing or empty", key)
		return 1
	}

	st, err := os.Stat(*v)
	if err != nil {
		log.Printf("%s path: %s", key, err)
		return 1
	} else if !st.IsDir() {
		log.Printf("%s path '%s' is not a directory", key, *v)
		return 1
	}

	return 0 // 0 = success
}

func config_parse_int(i *uint32, key string, lower uint32, upper uint32) int {
	*i = viper.GetUint32(key)

	if *i < lower || *i > upper {
		log.Printf("Variable %s out of bounds (%d), must be between %d and %d",
			key, *i, lower, upper)
		return 1
	}

	return 0 // 0 = success
}

func config_parse_size(i *uint32, key string, lower uint32, upper uint32) int {
	s := viper.GetString(key)
	if s == "" {
		log.Printf("Configuration entry for '%s' missing or empty", key)
		return 1
	}
	multiplier := 1

	s = strings.ToUpper(s)
	if strings.HasSuffix(s, "M") {
		multiplier = 1024 * 1024
		s = strings.TrimSuffix(s, "M")
	} else if strings.HasSuffix(s, "G") {
		multiplier = 1024 * 1024 * 1024
		s = strings.TrimSuffix(s, "G")
	}

	size, err := strconv.Atoi(s)
	if err != nil {
		log.Printf("Cannot parse variable %s: '%s'", key, s)
		return 1
	}

	*i = uint32(size) * uint32(multiplier)

	if *i < lower || *i > upper {
		log.Printf("Variable %s out of bounds (%d), must be between %d and %d",
			key, *i, lower, upper)
		return 1
	}

	return 0 // 0 = success
}

// ConfigureEncryptionKeystore loads the optional AES-256 keystore.
// A keystore is a CSV of (uuid, base64 key, comment). The most recently
// listed entry becomes the active key used for new archives.
func ConfigureEncryptionKeystore() int {
	file, err := os.Open(config.encryption_keystore)
	if err != nil {
		log.Printf("Error opening encryption keystore: %s", err)
		return 1
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.Comment = '#' // Specify # as comment character
	reader.FieldsPerRecord = 3

	records, err := reader.ReadAll()
	if err != nil {
		log.Printf("Error reading encryption keystore: %s", err)
		return 1
	}

	new_array := make(map[string][]byte)
	for _, fields := range records {
		// Convert printable base64 AES key string back to binary sequence we can use
		key, err := base64.StdEncoding.DecodeString(fields[1])
		if err != nil {
			log.Printf("Error decoding base64 AES key (uuid %s): %s", fields[0], err)
			return 1
		}

		// uuid is key, AES key (decoded from base64) is value
		new_array[fields[0]] = key

		// most recent one is active key
		config.aes_keystore_cur_uuid = fields[0]
	}
	config.aes_keystore_array = new_array

	return 0 // 0 = success
}

// EOF
