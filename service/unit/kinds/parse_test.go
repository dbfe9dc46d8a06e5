package kinds

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCPUTimes(t *testing.T) {
	t.Parallel()

	stat := []byte("cpu  1000 200 300 8000 50 0 25 0 0 0\ncpu0 500 100 150 4000 25 0 12 0 0 0\n")
	total, user, kernel, err := parseCPUTimes(stat)
	require.NoError(t, err)
	assert.Equal(t, uint64(9575), total)
	assert.Equal(t, uint64(1200), user, "user includes nice")
	assert.Equal(t, uint64(300), kernel)

	_, _, _, err = parseCPUTimes([]byte("intr 12345\n"))
	assert.Error(t, err)
}

func TestParseMeminfo(t *testing.T) {
	t.Parallel()

	meminfo := []byte(
		"MemTotal:       16384000 kB\n" +
			"MemFree:         1024000 kB\n" +
			"MemAvailable:   12288000 kB\n" +
			"Buffers:          512000 kB\n")
	out, err := parseMeminfo(meminfo)
	require.NoError(t, err)
	assert.InDelta(t, 25.0, out.usedPct, 0.01)
	assert.InDelta(t, 3.906, out.usedGiB, 0.01)

	_, err = parseMeminfo([]byte("MemFree: 1 kB\n"))
	assert.ErrorContains(t, err, "MemTotal")
}

func TestParseUptimeAndLoadavg(t *testing.T) {
	t.Parallel()

	up, err := parseUptime([]byte("12345.67 54321.00\n"))
	require.NoError(t, err)
	assert.Equal(t, 12345.67, up)

	load, err := parseLoadavg([]byte("0.52 1.04 2.08 2/1234 5678\n"))
	require.NoError(t, err)
	assert.Equal(t, [3]float64{0.52, 1.04, 2.08}, load)
}

func TestParseBlockStat(t *testing.T) {
	t.Parallel()

	stat := []byte("  140724    3892  9478390   48720   275542  226533 15975880  453424        0   182044   524564\n")
	r, w, err := parseBlockStat(stat)
	require.NoError(t, err)
	assert.Equal(t, uint64(9478390), r)
	assert.Equal(t, uint64(15975880), w)

	_, _, err = parseBlockStat([]byte("1 2 3\n"))
	assert.Error(t, err)
}

func TestSelectDiskRoot(t *testing.T) {
	t.Parallel()

	entries := []string{"nvme0n1", "nvme1n1", "sda", "dm-0"}
	assert.Equal(t, "nvme0n1", selectDiskRoot("nvme0n1p2", entries))
	assert.Equal(t, "sda", selectDiskRoot("sda3", entries))
	assert.Equal(t, "", selectDiskRoot("vda1", entries))
}

func TestParseNetDev(t *testing.T) {
	t.Parallel()

	dev := []byte(`Inter-|   Receive                                                |  Transmit
 face |bytes    packets errs drop fifo frame compressed multicast|bytes    packets errs drop fifo colls carrier compressed
    lo: 1111111    9999    0    0    0     0          0         0  1111111    9999    0    0    0     0       0          0
  eth0: 123456789  54321    0    0    0     0          0         0  987654321 12345    0    0    0     0       0          0
`)
	rx, tx, err := parseNetDev(dev, "eth0")
	require.NoError(t, err)
	assert.Equal(t, uint64(123456789), rx)
	assert.Equal(t, uint64(987654321), tx)

	_, _, err = parseNetDev(dev, "wlan0")
	assert.ErrorContains(t, err, "not found")
}

func TestParsePingLine(t *testing.T) {
	t.Parallel()

	seq, ms, ok := parsePingLine("64 bytes from 8.8.8.8: icmp_seq=7 ttl=117 time=25.6 ms")
	require.True(t, ok)
	assert.Equal(t, 7, seq)
	assert.Equal(t, 25.6, ms)

	_, _, ok = parsePingLine("PING 8.8.8.8 (8.8.8.8) 56(84) bytes of data.")
	assert.False(t, ok)
}

func TestMedianAndMAD(t *testing.T) {
	t.Parallel()

	med, mad := medianAndMAD([]float64{10, 12, 11, 50, 13})
	assert.Equal(t, 12.0, med)
	assert.Equal(t, 1.0, mad, "MAD shrugs off the outlier")
}

func TestParseWireless(t *testing.T) {
	t.Parallel()

	wireless := []byte(`Inter-| sta-|   Quality        |   Discarded packets               | Missed | WE
 face | tus | link level noise |  nwid  crypt   frag  retry   misc | beacon | 22
 wlan0: 0000   49.  -61.  -256        0      0      0      0      0        0
`)
	out, err := parseWireless(wireless, "wlan0")
	require.NoError(t, err)
	assert.True(t, out.present)
	assert.InDelta(t, 70.0, out.pct, 0.01)

	out, err = parseWireless(wireless, "wlan1")
	require.NoError(t, err)
	assert.False(t, out.present, "absent interface means no association")
}

func TestParseUeventAndBatteryInfo(t *testing.T) {
	t.Parallel()

	uevent := []byte(`POWER_SUPPLY_NAME=BAT0
POWER_SUPPLY_STATUS=Discharging
POWER_SUPPLY_PRESENT=1
POWER_SUPPLY_ENERGY_FULL_DESIGN=57000000
POWER_SUPPLY_ENERGY_FULL=50000000
POWER_SUPPLY_ENERGY_NOW=25000000
POWER_SUPPLY_POWER_NOW=12000000
`)
	u := parseUevent(uevent)
	assert.Equal(t, "discharging", u["status"])
	assert.Equal(t, batDischarging, statusFromUevent(u))

	info := batteryInfoFromEnergy(u)
	require.NotNil(t, info)
	assert.InDelta(t, 0.5, info.chargedFrac, 1e-9)
	assert.InDelta(t, 25.0/57.0, info.chargedFracDesign, 1e-9)
	assert.InDelta(t, 12.0, info.power, 1e-9)

	// charge_* fields missing: the charge-based derivation declines.
	assert.Nil(t, batteryInfoFromCharge(u))
}

func TestBatteryInfoFromCharge(t *testing.T) {
	t.Parallel()

	uevent := []byte(`POWER_SUPPLY_CHARGE_NOW=2500000
POWER_SUPPLY_CHARGE_FULL=5000000
POWER_SUPPLY_CHARGE_FULL_DESIGN=5700000
POWER_SUPPLY_VOLTAGE_NOW=12000000
POWER_SUPPLY_VOLTAGE_MIN_DESIGN=11000000
POWER_SUPPLY_CURRENT_NOW=1000000
`)
	info := batteryInfoFromCharge(parseUevent(uevent))
	require.NotNil(t, info)
	assert.InDelta(t, 12.0, info.power, 1e-9, "power is current times voltage")
	assert.Greater(t, info.chargedFrac, 0.0)
	assert.Less(t, info.chargedFrac, 1.0)
	assert.Less(t, info.chargedFracDesign, info.chargedFrac)
}

func TestBatteryInfoFromChargeZeroCharge(t *testing.T) {
	t.Parallel()

	// A zero charge_now would put zero in the voltage-curve divisor;
	// the derivation must decline so the energy_* fallback runs.
	uevent := []byte(`POWER_SUPPLY_CHARGE_NOW=0
POWER_SUPPLY_CHARGE_FULL=5000000
POWER_SUPPLY_CHARGE_FULL_DESIGN=5700000
POWER_SUPPLY_VOLTAGE_NOW=12000000
POWER_SUPPLY_VOLTAGE_MIN_DESIGN=11000000
POWER_SUPPLY_CURRENT_NOW=1000000
`)
	assert.Nil(t, batteryInfoFromCharge(parseUevent(uevent)))
}
