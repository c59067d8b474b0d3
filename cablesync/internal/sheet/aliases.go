package sheet

// Column identifies a target field of the canonical record.
type Column string

const (
	ColKey             Column = "key"
	ColSecondaryID     Column = "secondaryId"
	ColSiteStatus      Column = "siteStatus"
	ColStatus          Column = "status"
	ColDesignLength    Column = "designLength"
	ColInstalledLength Column = "installedLength"
	ColSection         Column = "section"
	ColDescription     Column = "description"
	ColCableType       Column = "cableType"
	ColFormation       Column = "formation"
	ColZoneFrom        Column = "zoneFrom"
	ColZoneTo          Column = "zoneTo"
	ColApparatusFrom   Column = "apparatusFrom"
	ColApparatusTo     Column = "apparatusTo"
)

// Header score weights per column class.
const (
	weightKey         = 10
	weightStatus      = 6
	weightSecondary   = 4
	weightNumeric     = 3
	weightDescriptive = 1
)

type alias struct {
	col    Column
	weight int
	keys   []string
}

// aliases lists, per target column, the canonical header keys that feed it in
// priority order. Sources mix Italian shipyard labels and English ones.
var aliases = []alias{
	{ColKey, weightKey, []string{"CODICE_CAVO", "COD_CAVO", "MARCA_CAVO", "CAVO", "CABLE_CODE", "CABLE_ID", "CABLE", "CODICE"}},
	{ColSecondaryID, weightSecondary, []string{"MARCA", "MARCA_PEZZO", "RIFERIMENTO", "RIF", "CABLE_MARK", "TAG"}},
	{ColSiteStatus, weightStatus, []string{"SITUAZIONE_CAVO", "SITUAZIONE_CAVO_CONIT", "STATO_CANTIERE", "SITUAZIONE", "SITE_STATUS"}},
	{ColStatus, weightStatus, []string{"STATO", "STATO_CAVO", "STATUS"}},
	{ColDesignLength, weightNumeric, []string{"LUNGHEZZA_DI_DISEGNO", "LUNGHEZZA_DISEGNO", "LUNG_DISEGNO", "METRI_TEORICI", "DESIGN_LENGTH"}},
	{ColInstalledLength, weightNumeric, []string{"LUNGHEZZA_POSATA", "METRI_POSATI", "LUNG_POSATA", "METRI_TOTALI", "INSTALLED_LENGTH"}},
	{ColSection, weightDescriptive, []string{"SEZIONE", "SEZ", "SECTION"}},
	{ColDescription, weightDescriptive, []string{"DESCRIZIONE", "DESCRIZIONE_CAVO", "DESCRIPTION", "DESC"}},
	{ColCableType, weightDescriptive, []string{"TIPO_CAVO", "TIPO", "CABLE_TYPE", "TYPE"}},
	{ColFormation, weightDescriptive, []string{"FORMAZIONE", "FORMATION"}},
	{ColZoneFrom, weightDescriptive, []string{"ZONA_DA", "DA_ZONA", "ZONA_PARTENZA", "ZONE_FROM"}},
	{ColZoneTo, weightDescriptive, []string{"ZONA_A", "A_ZONA", "ZONA_ARRIVO", "ZONE_TO"}},
	{ColApparatusFrom, weightDescriptive, []string{"APPARATO_DA", "DA_APPARATO", "UTENZA_DA", "FROM_EQUIPMENT"}},
	{ColApparatusTo, weightDescriptive, []string{"APPARATO_A", "A_APPARATO", "UTENZA_A", "TO_EQUIPMENT"}},
}

var (
	keyWeights = map[string]int{}
	keyAliases = map[string]bool{}
)

func init() {
	for _, a := range aliases {
		for _, k := range a.keys {
			if _, dup := keyWeights[k]; dup {
				panic("sheet: header alias " + k + " listed twice")
			}
			keyWeights[k] = a.weight
			if a.col == ColKey {
				keyAliases[k] = true
			}
		}
	}
}

// Weight returns the header score contribution of a canonical key.
func Weight(canonical string) int { return keyWeights[canonical] }

// IsKeyAlias reports whether a canonical key names the business key column.
func IsKeyAlias(canonical string) bool { return keyAliases[canonical] }
